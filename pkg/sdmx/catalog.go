package sdmx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SDMX-ML 2.1 namespaces.
const (
	NSMessage   = "http://www.sdmx.org/resources/sdmxml/schemas/v2_1/message"
	NSStructure = "http://www.sdmx.org/resources/sdmxml/schemas/v2_1/structure"
	NSCommon    = "http://www.sdmx.org/resources/sdmxml/schemas/v2_1/common"
)

// ErrMalformedCatalog is wrapped by every ParseCatalog failure.
var ErrMalformedCatalog = errors.New("malformed catalog")

type structureMessage struct {
	XMLName   xml.Name          `xml:"Structure"`
	Dataflows []dataflowElement `xml:"Structures>Dataflows>Dataflow"`
}

type dataflowElement struct {
	ID        string        `xml:"id,attr"`
	AgencyID  string        `xml:"agencyID,attr"`
	Version   string        `xml:"version,attr"`
	IsFinal   *string       `xml:"isFinal,attr"`
	Names     []nameElement `xml:"Name"`
	Structure *firstRef     `xml:"Structure"`
}

type nameElement struct {
	Lang string `xml:"lang,attr"`
	Text string `xml:",chardata"`
}

// firstRef captures the id of the first Ref element at any depth.
type firstRef struct {
	ID    string
	found bool
}

func (r *firstRef) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if !r.found && t.Name.Local == "Ref" {
				r.found = true
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						r.ID = a.Value
					}
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// ParseCatalog reads dataflow entries from an SDMX-ML structure message.
//
// The walk is Structure → Structures → Dataflows → Dataflow. Only the English name
// is kept. RefID is the id of the first Ref anywhere under the entry's Structure.
// Missing optional fields are nil; missing id/agencyID/version is an error.
func ParseCatalog(body []byte) ([]Dataflow, error) {
	var msg structureMessage
	dec := xml.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrMalformedCatalog)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}

	out := make([]Dataflow, 0, len(msg.Dataflows))
	for i, el := range msg.Dataflows {
		df, err := el.toDataflow()
		if err != nil {
			return nil, fmt.Errorf("%w: dataflow %d: %v", ErrMalformedCatalog, i+1, err)
		}
		out = append(out, df)
	}
	return out, nil
}

func (el dataflowElement) toDataflow() (Dataflow, error) {
	df := Dataflow{
		ID:       strings.TrimSpace(el.ID),
		AgencyID: strings.TrimSpace(el.AgencyID),
		Version:  strings.TrimSpace(el.Version),
	}
	switch {
	case df.ID == "":
		return Dataflow{}, fmt.Errorf("missing id")
	case df.AgencyID == "":
		return Dataflow{}, fmt.Errorf("dataflow %s: missing agencyID", df.ID)
	case df.Version == "":
		return Dataflow{}, fmt.Errorf("dataflow %s: missing version", df.ID)
	}
	// isFinal defaults to false in the SDMX schema.
	if el.IsFinal != nil {
		b, err := strconv.ParseBool(strings.TrimSpace(*el.IsFinal))
		if err != nil {
			return Dataflow{}, fmt.Errorf("dataflow %s: invalid isFinal %q", df.ID, *el.IsFinal)
		}
		df.IsFinal = b
	}
	for _, n := range el.Names {
		if n.Lang == "en" {
			name := n.Text
			df.NameEN = &name
			break
		}
	}
	if el.Structure != nil && el.Structure.found {
		ref := el.Structure.ID
		df.RefID = &ref
	}
	return df, nil
}

// EncodeCatalog renders dataflows as a minimal SDMX-ML 2.1 structure message.
func EncodeCatalog(dfs []Dataflow) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, `<message:Structure xmlns:message=%q xmlns:structure=%q xmlns:common=%q>`, NSMessage, NSStructure, NSCommon)
	buf.WriteString(`<message:Structures><structure:Dataflows>`)
	for _, d := range dfs {
		fmt.Fprintf(&buf, `<structure:Dataflow id=%s agencyID=%s version=%s isFinal="%t">`,
			attr(d.ID), attr(d.AgencyID), attr(d.Version), d.IsFinal)
		if d.NameEN != nil {
			buf.WriteString(`<common:Name xml:lang="en">`)
			if err := xml.EscapeText(&buf, []byte(*d.NameEN)); err != nil {
				return nil, err
			}
			buf.WriteString(`</common:Name>`)
		}
		if d.RefID != nil {
			fmt.Fprintf(&buf, `<structure:Structure><Ref id=%s class="DataStructure" package="datastructure"/></structure:Structure>`, attr(*d.RefID))
		}
		buf.WriteString(`</structure:Dataflow>`)
	}
	buf.WriteString(`</structure:Dataflows></message:Structures></message:Structure>`)
	return buf.Bytes(), nil
}

func attr(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	_ = xml.EscapeText(&b, []byte(s))
	b.WriteByte('"')
	return b.String()
}
