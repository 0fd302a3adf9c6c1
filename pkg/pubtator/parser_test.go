package pubtator

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pubgraph/backend/pkg/common"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<collection>
  <source>PubTator</source>
  <document>
    <id>12345</id>
    <passage>
      <infon key="journal">Nat Med</infon>
      <infon key="year">2021</infon>
      <infon key="authors">Smith J, Doe A</infon>
      <infon key="article-id_pmc">PMC999</infon>
      <infon key="type">title</infon>
      <offset>0</offset>
      <text>TP53 mutations in breast cancer</text>
      <annotation id="1">
        <infon key="identifier">7157</infon>
        <infon key="type">Gene</infon>
        <location offset="0" length="4"/>
        <text>TP53</text>
      </annotation>
      <annotation id="2">
        <infon key="identifier">MESH:D001943</infon>
        <infon key="type">Disease</infon>
        <location offset="18" length="13"/>
        <text>breast cancer</text>
      </annotation>
    </passage>
    <passage>
      <infon key="type">abstract</infon>
      <offset>32</offset>
      <text>We study p53 in tumours.</text>
      <annotation id="3">
        <infon key="identifier">7157</infon>
        <infon key="type">Gene</infon>
        <location offset="41" length="3"/>
        <text>p53</text>
      </annotation>
      <annotation id="4">
        <infon key="identifier">-</infon>
        <infon key="type">Disease</infon>
        <location offset="48" length="7"/>
        <text>tumours</text>
      </annotation>
    </passage>
    <relation id="R1">
      <infon key="score">0.97</infon>
      <infon key="role1">Gene|7157</infon>
      <infon key="role2">Disease|MESH:D001943</infon>
      <infon key="type">Association</infon>
    </relation>
  </document>
</collection>`

func TestParse(t *testing.T) {
	res, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	a := res.Article

	if a.ID != "12345" {
		t.Fatalf("expected id 12345, got %q", a.ID)
	}
	if a.Title != "TP53 mutations in breast cancer" {
		t.Fatalf("unexpected title %q", a.Title)
	}
	if a.Abstract != "We study p53 in tumours." {
		t.Fatalf("unexpected abstract %q", a.Abstract)
	}
	if a.Journal != "Nat Med" || a.Year != "2021" || a.PMCID != "PMC999" {
		t.Fatalf("unexpected metadata %q %q %q", a.Journal, a.Year, a.PMCID)
	}
	if !reflect.DeepEqual(a.Authors, []string{"Smith J", "Doe A"}) {
		t.Fatalf("unexpected authors %v", a.Authors)
	}
	if len(a.Mentions) != 4 {
		t.Fatalf("expected 4 mentions, got %d (warnings %v)", len(a.Mentions), res.Warnings)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings)
	}

	p53 := a.Mentions[2]
	want := common.Span{Passage: common.PassageAbstract, Offset: 9, Length: 3}
	if !reflect.DeepEqual(p53.Spans, []common.Span{want}) {
		t.Fatalf("expected span %+v, got %+v", want, p53.Spans)
	}
	if got := []rune(a.Abstract)[9:12]; string(got) != "p53" {
		t.Fatalf("expected span to cover p53, got %q", string(got))
	}
	if a.Mentions[3].Key() != "disease:tumours" {
		t.Fatalf("expected fallback key disease:tumours, got %q", a.Mentions[3].Key())
	}

	if len(a.Relations) != 1 {
		t.Fatalf("expected 1 relation, got %d", len(a.Relations))
	}
	r := a.Relations[0]
	if r.Type != "Association" || r.Source.Identifier != "7157" || r.Target.Type != "Disease" || r.Score != 0.97 {
		t.Fatalf("unexpected relation %+v", r)
	}
	if r.ArticleID != "12345" {
		t.Fatalf("expected relation scoped to 12345, got %q", r.ArticleID)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	first, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Parse([]byte(sampleDoc))
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("expected identical results on run %d", i)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"empty", "", "document"},
		{"not xml", "<collection><document>", "document"},
		{"no document", "<collection></collection>", "document"},
		{"no id", `<collection><document><passage><infon key="type">title</infon><text>T</text></passage></document></collection>`, "id"},
		{"no title", `<collection><document><id>1</id><passage><infon key="type">abstract</infon><text>A</text></passage></document></collection>`, "title"},
		{"blank title", `<collection><document><id>1</id><passage><infon key="type">title</infon><text>  </text></passage></document></collection>`, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if !errors.Is(err, common.ErrMalformedDocument) {
				t.Fatalf("expected ErrMalformedDocument, got %v", err)
			}
			var md *common.MalformedDocumentError
			if !errors.As(err, &md) || md.Field != tt.field {
				t.Fatalf("expected field %q, got %v", tt.field, err)
			}
			if common.KindOf(err) != common.KindMalformedDocument {
				t.Fatalf("expected kind MalformedDocument, got %s", common.KindOf(err))
			}
		})
	}
}

func TestParseMissingAbstract(t *testing.T) {
	doc := `<collection><document><id>7</id>
	  <passage><infon key="type">title</infon><offset>0</offset><text>Only a title</text></passage>
	</document></collection>`
	res, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Article.Abstract != "" {
		t.Fatalf("expected empty abstract, got %q", res.Article.Abstract)
	}
	if res.Article.Text() != "Only a title" {
		t.Fatalf("expected title only text, got %q", res.Article.Text())
	}
	if res.Article.Mentions == nil || res.Article.Relations == nil {
		t.Fatal("expected empty, non-nil mentions and relations")
	}
}

func TestParseDropsInvalidSpans(t *testing.T) {
	doc := `<collection><document><id>8</id>
	  <passage><infon key="type">title</infon><offset>0</offset><text>BRCA1 study</text>
	    <annotation id="a"><infon key="type">Gene</infon><infon key="identifier">672</infon>
	      <location offset="0" length="5"/><location offset="6" length="50"/><text>BRCA1</text></annotation>
	    <annotation id="b"><infon key="type">Gene</infon><infon key="identifier">675</infon>
	      <location offset="100" length="5"/><text>BRCA2</text></annotation>
	    <annotation id="c"><infon key="type">Gene</infon><infon key="identifier">1</infon>
	      <location offset="x" length="5"/><text>X</text></annotation>
	  </passage>
	</document></collection>`
	res, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(res.Article.Mentions) != 1 {
		t.Fatalf("expected 1 mention, got %d", len(res.Article.Mentions))
	}
	if n := len(res.Article.Mentions[0].Spans); n != 1 {
		t.Fatalf("expected the out of range span to be dropped, got %d spans", n)
	}
	// one dropped span of a, a out of range and empty b, unreadable and empty c
	if len(res.Warnings) != 5 {
		t.Fatalf("expected 5 warnings, got %d: %v", len(res.Warnings), res.Warnings)
	}
}

func TestParseRuneOffsets(t *testing.T) {
	doc := `<collection><document><id>9</id>
	  <passage><infon key="type">title</infon><offset>0</offset><text>Étude of TNF-α signalling</text>
	    <annotation id="1"><infon key="type">Gene</infon><infon key="identifier">7124</infon>
	      <location offset="9" length="5"/><text>TNF-α</text></annotation>
	  </passage>
	</document></collection>`
	res, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(res.Article.Mentions) != 1 {
		t.Fatalf("expected 1 mention, got %d: %v", len(res.Article.Mentions), res.Warnings)
	}
	s := res.Article.Mentions[0].Spans[0]
	if got := string([]rune(res.Article.Title)[s.Offset : s.Offset+s.Length]); got != "TNF-α" {
		t.Fatalf("expected span to cover TNF-α, got %q", got)
	}
}

func TestParseJoinsAbstractPassages(t *testing.T) {
	doc := `<collection><document><id>10</id>
	  <passage><infon key="type">title</infon><offset>0</offset><text>T</text></passage>
	  <passage><infon key="type">abstract</infon><offset>2</offset><text>Background.</text></passage>
	  <passage><infon key="type">abstract</infon><offset>14</offset><text>EGFR results.</text>
	    <annotation id="1"><infon key="type">Gene</infon><infon key="identifier">1956</infon>
	      <location offset="14" length="4"/><text>EGFR</text></annotation>
	  </passage>
	</document></collection>`
	res, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Article.Abstract != "Background. EGFR results." {
		t.Fatalf("unexpected abstract %q", res.Article.Abstract)
	}
	s := res.Article.Mentions[0].Spans[0]
	if got := string([]rune(res.Article.Abstract)[s.Offset : s.Offset+s.Length]); got != "EGFR" {
		t.Fatalf("expected span to cover EGFR, got %q", got)
	}
}

func TestParseDropsIncompleteRelations(t *testing.T) {
	doc := `<collection><document><id>11</id>
	  <passage><infon key="type">title</infon><text>T</text></passage>
	  <relation id="R1"><infon key="type">Bind</infon><infon key="role1">Gene|1</infon></relation>
	  <relation id="R2"><infon key="role1">Gene|1</infon><infon key="role2">Gene|2</infon></relation>
	  <relation id="R3"><infon key="type">Bind</infon><infon key="role1">Gene|1</infon><infon key="role2">Chemical|MESH:C1</infon><infon key="score">n/a</infon></relation>
	</document></collection>`
	res, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(res.Article.Relations) != 1 || res.Article.Relations[0].ID != "R3" {
		t.Fatalf("expected only R3 to survive, got %+v", res.Article.Relations)
	}
	if len(res.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", res.Warnings)
	}
}

func TestParseCollection(t *testing.T) {
	doc := `<collection>
	  <document><id>1</id><passage><infon key="type">title</infon><text>One</text></passage></document>
	  <document><passage><infon key="type">title</infon><text>No id</text></passage></document>
	  <document><id>3</id><passage><infon key="type">title</infon><text>Three</text></passage></document>
	</collection>`
	results, errs := ParseCollection([]byte(doc))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(errs) != 1 || !errors.Is(errs[0], common.ErrMalformedDocument) {
		t.Fatalf("expected one malformed error, got %v", errs)
	}
	if results[0].Article.ID != "1" || results[1].Article.ID != "3" {
		t.Fatalf("expected ids 1 and 3 in order, got %s %s", results[0].Article.ID, results[1].Article.ID)
	}

	single, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(single.Warnings) != 1 || !strings.Contains(single.Warnings[0], "3 documents") {
		t.Fatalf("expected multi document warning, got %v", single.Warnings)
	}

	ids, err := DocumentIDs([]byte(doc))
	if err != nil || !reflect.DeepEqual(ids, []string{"1", "3"}) {
		t.Fatalf("expected ids [1 3], got %v (%v)", ids, err)
	}
}
