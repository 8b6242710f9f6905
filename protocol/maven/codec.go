package maven

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/wolfeidau/repository-proxy/backend"
)

// ErrMalformedMetadata is returned when a metadata document cannot be parsed
// or lacks its required identifiers.
var ErrMalformedMetadata = errors.New("malformed metadata")

// xmlMetadata is the decoding shape of maven-metadata.xml. Tags carry no
// namespace so documents with or without the METADATA xmlns both decode.
type xmlMetadata struct {
	XMLName    xml.Name       `xml:"metadata"`
	GroupID    string         `xml:"groupId"`
	ArtifactID string         `xml:"artifactId"`
	Version    string         `xml:"version"`
	Plugins    []xmlPlugin    `xml:"plugins>plugin"`
	Versioning *xmlVersioning `xml:"versioning"`
}

type xmlVersioning struct {
	Latest      string       `xml:"latest"`
	Release     string       `xml:"release"`
	Snapshot    *xmlSnapshot `xml:"snapshot"`
	Versions    []string     `xml:"versions>version"`
	LastUpdated string       `xml:"lastUpdated"`
}

type xmlSnapshot struct {
	Timestamp   string `xml:"timestamp"`
	BuildNumber string `xml:"buildNumber"`
}

type xmlPlugin struct {
	Prefix     string `xml:"prefix"`
	ArtifactID string `xml:"artifactId"`
	Name       string `xml:"name"`
}

// ReadMetadata decodes a metadata document. groupId is required, and so is
// artifactId unless the document is group-level plugin metadata.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	var doc xmlMetadata
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMetadata, err)
	}

	m := &Metadata{
		GroupID:    strings.TrimSpace(doc.GroupID),
		ArtifactID: strings.TrimSpace(doc.ArtifactID),
		Version:    strings.TrimSpace(doc.Version),
	}
	for _, p := range doc.Plugins {
		m.Plugins = append(m.Plugins, Plugin{
			Prefix:     strings.TrimSpace(p.Prefix),
			ArtifactID: strings.TrimSpace(p.ArtifactID),
			Name:       strings.TrimSpace(p.Name),
		})
	}
	if v := doc.Versioning; v != nil {
		m.LatestVersion = strings.TrimSpace(v.Latest)
		m.ReleasedVersion = strings.TrimSpace(v.Release)
		m.LastUpdated = strings.TrimSpace(v.LastUpdated)
		for _, version := range v.Versions {
			if version = strings.TrimSpace(version); version != "" {
				m.AvailableVersions = append(m.AvailableVersions, version)
			}
		}
		if s := v.Snapshot; s != nil {
			m.SnapshotVersion = &SnapshotVersion{Timestamp: strings.TrimSpace(s.Timestamp)}
			if n, err := strconv.Atoi(strings.TrimSpace(s.BuildNumber)); err == nil {
				m.SnapshotVersion.BuildNumber = n
			}
		}
	}

	if m.GroupID == "" {
		return nil, fmt.Errorf("%w: missing groupId", ErrMalformedMetadata)
	}
	if m.ArtifactID == "" && len(m.Plugins) == 0 {
		return nil, fmt.Errorf("%w: missing artifactId", ErrMalformedMetadata)
	}
	return m, nil
}

// ReadMetadataFile reads the metadata document stored at key.
func ReadMetadataFile(ctx context.Context, b backend.Backend, key string) (*Metadata, error) {
	rc, err := b.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	m, err := ReadMetadata(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return m, nil
}

// WriteMetadata encodes m with a fixed element order and two space
// indentation. Blank optional values are left out, so equal documents always
// encode to the same bytes.
func WriteMetadata(w io.Writer, m *Metadata) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("metadata")
	addOptional(root, "groupId", m.GroupID)
	addOptional(root, "artifactId", m.ArtifactID)
	addOptional(root, "version", m.Version)

	if len(m.Plugins) > 0 {
		plugins := root.CreateElement("plugins")
		for _, p := range m.Plugins {
			plugin := plugins.CreateElement("plugin")
			plugin.CreateElement("prefix").SetText(p.Prefix)
			plugin.CreateElement("artifactId").SetText(p.ArtifactID)
			addOptional(plugin, "name", p.Name)
		}
	}

	if m.hasVersioning() {
		versioning := root.CreateElement("versioning")
		addOptional(versioning, "latest", m.LatestVersion)
		addOptional(versioning, "release", m.ReleasedVersion)
		if s := m.SnapshotVersion; s != nil {
			snapshot := versioning.CreateElement("snapshot")
			snapshot.CreateElement("buildNumber").SetText(strconv.Itoa(s.BuildNumber))
			addOptional(snapshot, "timestamp", s.Timestamp)
		}
		if len(m.AvailableVersions) > 0 {
			versions := versioning.CreateElement("versions")
			for _, v := range m.AvailableVersions {
				versions.CreateElement("version").SetText(v)
			}
		}
		addOptional(versioning, "lastUpdated", m.LastUpdated)
	}

	doc.Indent(2)
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// WriteMetadataFile atomically replaces the document stored at key.
func WriteMetadataFile(ctx context.Context, b backend.Backend, key string, m *Metadata) error {
	var buf bytes.Buffer
	if err := WriteMetadata(&buf, m); err != nil {
		return err
	}
	if err := b.Write(ctx, key, &buf); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func (m *Metadata) hasVersioning() bool {
	return m.LatestVersion != "" ||
		m.ReleasedVersion != "" ||
		len(m.AvailableVersions) > 0 ||
		m.LastUpdated != "" ||
		m.SnapshotVersion != nil
}

func addOptional(parent *etree.Element, tag, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	parent.CreateElement(tag).SetText(value)
}
