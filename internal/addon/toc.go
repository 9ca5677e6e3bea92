package addon

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
)

// wowColorCodeRegex matches WoW color escape sequences like |cffRRGGBB and |r
var wowColorCodeRegex = regexp.MustCompile(`\|c[0-9a-fA-F]{8}|\|r`)

// TOC contains parsed information from a .toc descriptor file.
// Fields holds every "## Key: Value" line keyed by lowercased name, so
// source-specific id fields (e.g. "x-curse-project-id") stay reachable.
type TOC struct {
	Title     string
	Version   string
	Author    string
	Notes     string
	Interface string
	Fields    map[string]string
}

// Field returns a raw metadata value by lowercased key.
func (t *TOC) Field(key string) string {
	if t == nil || t.Fields == nil {
		return ""
	}
	return t.Fields[strings.ToLower(key)]
}

// Flavour derives the game flavour from the Interface version.
func (t *TOC) Flavour() (Flavour, bool) {
	if t == nil || t.Interface == "" {
		return "", false
	}
	return FlavourFromInterface(t.Interface)
}

// stripWoWColorCodes removes WoW color escape sequences from a string
func stripWoWColorCodes(s string) string {
	return wowColorCodeRegex.ReplaceAllString(s, "")
}

// ParseTOC parses a .toc file and extracts metadata
func ParseTOC(tocPath string) (*TOC, error) {
	file, err := os.Open(tocPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return ParseTOCReader(file)
}

// ParseTOCReader parses .toc content from a reader.
func ParseTOCReader(r io.Reader) (*TOC, error) {
	info := &TOC{Fields: make(map[string]string)}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// TOC metadata lines start with ##
		if !strings.HasPrefix(line, "##") {
			continue
		}

		line = strings.TrimSpace(strings.TrimPrefix(line, "##"))

		// Split on first colon
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		info.Fields[strings.ToLower(key)] = value

		switch strings.ToLower(key) {
		case "title":
			info.Title = stripWoWColorCodes(value)
		case "version":
			info.Version = value
		case "author":
			info.Author = value
		case "notes":
			info.Notes = stripWoWColorCodes(value)
		case "interface":
			info.Interface = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return info, nil
}
