// Package pubtator turns PubTator BioC XML documents into articles.
//
// Parsing is pure: no I/O and no logging. Problems that only affect part of a
// document (an annotation pointing outside its passage, a relation without
// roles) are reported as warnings and the rest of the document is kept.
// Problems that leave no usable article are returned as
// *common.MalformedDocumentError.
package pubtator

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pubgraph/backend/pkg/common"
)

// Result is one parsed document.
type Result struct {
	Article  common.Article
	Warnings []string
}

// Parse parses the first document of a BioC collection.
func Parse(data []byte) (*Result, error) {
	coll, err := decode(data)
	if err != nil {
		return nil, err
	}
	if len(coll.Documents) == 0 {
		return nil, &common.MalformedDocumentError{Field: "document", Detail: "no <document> element"}
	}

	res, err := parseDocument(coll.Documents[0])
	if err != nil {
		return nil, err
	}
	if n := len(coll.Documents); n > 1 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("collection holds %d documents, only the first was parsed", n))
	}
	return res, nil
}

// ParseCollection parses every document of a BioC collection. Results and
// errors are returned in document order; a broken document does not stop the
// others from being parsed. A collection that cannot be decoded yields a
// single error.
func ParseCollection(data []byte) ([]*Result, []error) {
	coll, err := decode(data)
	if err != nil {
		return nil, []error{err}
	}
	if len(coll.Documents) == 0 {
		return nil, []error{&common.MalformedDocumentError{Field: "document", Detail: "no <document> element"}}
	}

	var (
		results []*Result
		errs    []error
	)
	for i, doc := range coll.Documents {
		res, err := parseDocument(doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("document %d: %w", i, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// DocumentIDs returns the ids of all documents in a collection without
// validating them further.
func DocumentIDs(data []byte) ([]string, error) {
	coll, err := decode(data)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(coll.Documents))
	for _, doc := range coll.Documents {
		if id := strings.TrimSpace(doc.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func decode(data []byte) (*biocCollection, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &common.MalformedDocumentError{Field: "document", Detail: "empty input"}
	}
	var coll biocCollection
	if err := xml.Unmarshal(data, &coll); err != nil {
		return nil, &common.MalformedDocumentError{Field: "document", Detail: err.Error()}
	}
	return &coll, nil
}

type passageText struct {
	name  string
	text  string
	runes int
	// shift moves spans of a later abstract passage into the joined abstract.
	shift int
}

func parseDocument(doc biocDocument) (*Result, error) {
	res := &Result{}
	a := &res.Article

	a.ID = strings.TrimSpace(doc.ID)
	if a.ID == "" {
		return nil, &common.MalformedDocumentError{Field: "id", Detail: "missing document id"}
	}

	var (
		titleSeen bool
		abstract  strings.Builder
		absRunes  int
	)

	for pi, p := range doc.Passages {
		kind := strings.ToLower(infon(p.Infons, "type"))
		text := strings.TrimSpace(p.Text)
		readMetadata(a, p.Infons)

		var pt passageText
		switch {
		case kind == common.PassageTitle && !titleSeen:
			titleSeen = true
			a.Title = text
			pt = passageText{name: common.PassageTitle, text: text, runes: utf8.RuneCountInString(text)}
		case kind == common.PassageAbstract:
			shift := 0
			if text != "" && abstract.Len() > 0 {
				abstract.WriteByte(' ')
				absRunes++
				shift = absRunes
			}
			abstract.WriteString(text)
			absRunes += utf8.RuneCountInString(text)
			pt = passageText{name: common.PassageAbstract, text: text, runes: utf8.RuneCountInString(text), shift: shift}
		default:
			if len(p.Annotations) > 0 {
				res.warnf("passage %d of type %q ignored with %d annotations", pi, kind, len(p.Annotations))
			}
			continue
		}

		base := 0
		var err error
		if strings.TrimSpace(p.Offset) != "" {
			base, err = parseInt(p.Offset)
		}
		if err != nil {
			res.warnf("passage %d has invalid offset %q, annotations skipped", pi, p.Offset)
			continue
		}
		// Offsets are counted against the untrimmed passage text.
		lead := utf8.RuneCountInString(p.Text) - utf8.RuneCountInString(strings.TrimLeftFunc(p.Text, unicode.IsSpace))

		for _, ann := range p.Annotations {
			if m, ok := parseAnnotation(res, a.ID, ann, pt, base+lead); ok {
				a.Mentions = append(a.Mentions, m)
			}
		}
	}

	if !titleSeen {
		return nil, &common.MalformedDocumentError{Field: "title", Detail: "no title passage"}
	}
	if a.Title == "" {
		return nil, &common.MalformedDocumentError{Field: "title", Detail: "empty title"}
	}
	a.Abstract = abstract.String()

	for _, rel := range doc.Relations {
		if r, ok := parseRelation(res, a.ID, rel); ok {
			a.Relations = append(a.Relations, r)
		}
	}

	if a.Mentions == nil {
		a.Mentions = []common.EntityMention{}
	}
	if a.Relations == nil {
		a.Relations = []common.Relation{}
	}
	return res, nil
}

func readMetadata(a *common.Article, infons []biocInfon) {
	if a.Journal == "" {
		a.Journal = infon(infons, "journal")
	}
	if a.Year == "" {
		a.Year = infon(infons, "year")
	}
	if a.PMCID == "" {
		a.PMCID = infon(infons, "article-id_pmc")
	}
	if len(a.Authors) == 0 {
		a.Authors = splitAuthors(infon(infons, "authors"))
	}
}

func splitAuthors(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// parseAnnotation converts the document-absolute locations of an annotation
// into spans relative to its passage. base is the document offset of the
// first rune of the trimmed passage text.
func parseAnnotation(res *Result, articleID string, ann biocAnnotation, pt passageText, base int) (common.EntityMention, bool) {
	m := common.EntityMention{
		ID:         strings.TrimSpace(ann.ID),
		ArticleID:  articleID,
		Type:       infon(ann.Infons, "type"),
		Text:       strings.TrimSpace(ann.Text),
		Identifier: infon(ann.Infons, "identifier"),
	}
	if m.Text == "" && !common.IsResolvableIdentifier(m.Identifier) {
		res.warnf("annotation %s has neither text nor identifier, dropped", m.ID)
		return m, false
	}

	for _, loc := range ann.Locations {
		off, err1 := parseInt(loc.Offset)
		length, err2 := parseInt(loc.Length)
		if err1 != nil || err2 != nil {
			res.warnf("annotation %s has unreadable location %q+%q, span dropped", m.ID, loc.Offset, loc.Length)
			continue
		}
		rel := off - base
		if rel < 0 || length <= 0 || rel+length > pt.runes {
			res.warnf("annotation %s span %d+%d outside %s passage of %d characters, span dropped",
				m.ID, rel, length, pt.name, pt.runes)
			continue
		}
		m.Spans = append(m.Spans, common.Span{Passage: pt.name, Offset: rel + pt.shift, Length: length})
	}

	if len(m.Spans) == 0 {
		res.warnf("annotation %s has no valid span, dropped", m.ID)
		return m, false
	}
	return m, true
}

func parseRelation(res *Result, articleID string, rel biocRelation) (common.Relation, bool) {
	r := common.Relation{
		ID:        strings.TrimSpace(rel.ID),
		ArticleID: articleID,
		Type:      infon(rel.Infons, "type"),
	}
	if r.Type == "" {
		res.warnf("relation %s has no type, dropped", r.ID)
		return r, false
	}

	src, ok1 := common.ParseEntityRef(infon(rel.Infons, "role1"))
	dst, ok2 := common.ParseEntityRef(infon(rel.Infons, "role2"))
	if !ok1 || !ok2 {
		res.warnf("relation %s is missing a role, dropped", r.ID)
		return r, false
	}
	r.Source, r.Target = src, dst

	if raw := infon(rel.Infons, "score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			res.warnf("relation %s has unreadable score %q, ignored", r.ID, raw)
		} else {
			r.Score = score
		}
	}
	return r, true
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
