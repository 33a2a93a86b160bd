// Package rommeta reads device metadata out of an Android ROM zip and
// names converted images after it.
package rommeta

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"strings"
)

// Unknown fills metadata fields the ROM does not carry.
const Unknown = "unknown"

// propPaths are tried in order; the first one that looks like a build.prop wins.
var propPaths = []string{
	"system/build.prop",
	"system/system/build.prop",
	"META-INF/com/google/android/updater-script",
}

const maxPropSize = 1 << 20

var (
	versionPattern4 = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+`)
	versionPattern3 = regexp.MustCompile(`\d+\.\d+\.\d+`)
	filenameUnsafe  = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// Metadata describes the build a ROM was made from.
type Metadata struct {
	Codename       string `json:"codename"`
	Version        string `json:"version"`
	AndroidVersion string `json:"android_version"`
	SDKVersion     string `json:"sdk_version"`
	BuildDate      string `json:"build_date"`
	Fingerprint    string `json:"fingerprint"`
}

// ErrNoBuildProp is returned when none of the known property files exist.
var ErrNoBuildProp = errors.New("no build.prop found in ROM")

// Extract opens the ROM zip at path and reads its metadata. A ROM without
// properties yields ErrNoBuildProp alongside all-unknown metadata.
func Extract(path string) (Metadata, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return FromProps(nil), fmt.Errorf("open ROM: %w", err)
	}
	defer zr.Close()

	props, err := readProps(zr)
	return FromProps(props), err
}

func readProps(fsys fs.FS) (map[string]string, error) {
	var content string
	found := false
	for _, p := range propPaths {
		data, err := readLimited(fsys, p)
		if err != nil {
			continue
		}
		content, found = data, true
		if strings.Contains(content, "ro.build") || strings.Contains(content, "ro.product") {
			break
		}
	}
	if !found {
		return nil, ErrNoBuildProp
	}
	return ParseProps(content), nil
}

func readLimited(fsys fs.FS, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPropSize))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// ParseProps parses key=value lines, skipping blanks and # comments.
func ParseProps(content string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props
}

// FromProps derives metadata from parsed build properties.
func FromProps(props map[string]string) Metadata {
	version := first(props, "ro.build.version.incremental", "ro.build.id", "ro.build.display.id")
	// Vendor display IDs usually carry the marketing version, e.g. "16.0.0.205".
	display := props["ro.build.display.id"]
	if v := versionPattern4.FindString(display); v != "" {
		version = v
	} else if v := versionPattern3.FindString(display); v != "" {
		version = v
	}

	return Metadata{
		Codename:       first(props, "ro.product.device", "ro.product.name", "ro.build.product"),
		Version:        version,
		AndroidVersion: first(props, "ro.build.version.release"),
		SDKVersion:     first(props, "ro.build.version.sdk"),
		BuildDate:      first(props, "ro.build.date"),
		Fingerprint:    first(props, "ro.build.fingerprint"),
	}
}

func first(props map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := props[k]; v != "" {
			return v
		}
	}
	return Unknown
}

// Filename names a converted image: <codename>-<version>-<variant>.<ext>.
func Filename(meta Metadata, variant, ext string) string {
	codename := sanitize(meta.Codename)
	version := sanitize(meta.Version)
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "zip"
	}
	return fmt.Sprintf("%s-%s-%s.%s", codename, version, sanitize(variant), ext)
}

func sanitize(s string) string {
	if s == "" {
		s = Unknown
	}
	return filenameUnsafe.ReplaceAllString(s, "_")
}
