package perception

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// SimplifyUITree reduces a uiautomator dump to the elements worth showing
// the model: anything with text, a description, a resource id, a click
// handler, or an editable field. Each element carries the center of its
// bounds so a tap can target it directly.
//
// uiautomator sometimes prefixes the XML with a status line; anything
// before the document start is dropped.
func SimplifyUITree(raw string) []UIElement {
	if i := strings.Index(raw, "<?xml"); i >= 0 {
		raw = raw[i:]
	} else if i := strings.Index(raw, "<hierarchy"); i >= 0 {
		raw = raw[i:]
	}

	dec := xml.NewDecoder(strings.NewReader(raw))
	dec.Strict = false

	var out []UIElement
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "node" {
				continue
			}
			if e, ok := elementFromNode(t, depth); ok {
				out = append(out, e)
			}
			depth++
		case xml.EndElement:
			if t.Name.Local == "node" && depth > 0 {
				depth--
			}
		}
	}
	return out
}

func elementFromNode(t xml.StartElement, depth int) (UIElement, bool) {
	attr := func(name string) string {
		for _, a := range t.Attr {
			if a.Name.Local == name {
				return a.Value
			}
		}
		return ""
	}

	fullClass := attr("class")
	e := UIElement{
		Text:      attr("text"),
		Desc:      attr("content-desc"),
		Clickable: attr("clickable") == "true",
		Focused:   attr("focused") == "true",
		Depth:     depth,
	}
	if i := strings.LastIndex(fullClass, "."); i >= 0 {
		e.Class = fullClass[i+1:]
	} else {
		e.Class = fullClass
	}
	rid := attr("resource-id")
	if i := strings.LastIndex(rid, "/"); i >= 0 {
		e.ResourceID = rid[i+1:]
	}
	e.Editable = strings.Contains(fullClass, "EditText")

	if cx, cy, ok := boundsCenter(attr("bounds")); ok {
		e.CX, e.CY, e.HasCenter = cx, cy, true
	}

	interesting := e.Text != "" || e.Desc != "" || e.Clickable || e.ResourceID != "" || e.Editable
	return e, interesting
}

// boundsCenter parses the "[x1,y1][x2,y2]" bounds attribute.
func boundsCenter(bounds string) (int, int, bool) {
	r := strings.NewReplacer("[", "", "]", ",")
	var nums []int
	for _, part := range strings.Split(r.Replace(bounds), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	if len(nums) < 4 {
		return 0, 0, false
	}
	return (nums[0] + nums[2]) / 2, (nums[1] + nums[3]) / 2, true
}
