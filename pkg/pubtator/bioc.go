package pubtator

import (
	"strings"
)

// BioC XML as exported by PubTator3:
//
//	<collection>
//	  <document>
//	    <id>PMID</id>
//	    <passage>
//	      <infon key="type">title</infon>
//	      <offset>0</offset>
//	      <text>...</text>
//	      <annotation id="1">
//	        <infon key="identifier">7157</infon>
//	        <infon key="type">Gene</infon>
//	        <location offset="12" length="3"/>
//	        <text>p53</text>
//	      </annotation>
//	    </passage>
//	    <relation id="R1">
//	      <infon key="type">Association</infon>
//	      <infon key="role1">Gene|7157</infon>
//	      <infon key="role2">Disease|MESH:D009369</infon>
//	    </relation>
//	  </document>
//	</collection>

type biocCollection struct {
	Documents []biocDocument `xml:"document"`
}

type biocDocument struct {
	ID        string         `xml:"id"`
	Passages  []biocPassage  `xml:"passage"`
	Relations []biocRelation `xml:"relation"`
}

type biocInfon struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type biocPassage struct {
	Infons      []biocInfon      `xml:"infon"`
	Offset      string           `xml:"offset"`
	Text        string           `xml:"text"`
	Annotations []biocAnnotation `xml:"annotation"`
}

type biocAnnotation struct {
	ID        string         `xml:"id,attr"`
	Infons    []biocInfon    `xml:"infon"`
	Locations []biocLocation `xml:"location"`
	Text      string         `xml:"text"`
}

type biocLocation struct {
	Offset string `xml:"offset,attr"`
	Length string `xml:"length,attr"`
}

type biocRelation struct {
	ID     string      `xml:"id,attr"`
	Infons []biocInfon `xml:"infon"`
}

// infon returns the trimmed value of the first infon with the given key.
func infon(infons []biocInfon, key string) string {
	for _, in := range infons {
		if strings.EqualFold(in.Key, key) {
			return strings.TrimSpace(in.Value)
		}
	}
	return ""
}
