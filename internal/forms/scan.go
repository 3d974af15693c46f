package forms

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bobch27/signupwatch/internal/page"
)

// KeyAttr is where the page script stores the key it first gave a form, so the key
// survives forms being inserted before it.
const KeyAttr = "data-signupwatch-key"

// FormKey derives the key a form is first tracked under; the injected page script uses
// the same scheme.
func FormKey(id string, index int) string {
	if id != "" {
		return "id:" + id
	}
	return fmt.Sprintf("index:%d", index)
}

// ScanHTML enumerates the forms in an HTML document. A form the page script already
// keyed keeps that key. An unkeyed form whose derived key is held by a keyed one is
// left for the page script to announce.
func ScanHTML(html string) ([]page.Form, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	taken := make(map[string]bool)
	doc.Find("form[" + KeyAttr + "]").Each(func(_ int, s *goquery.Selection) {
		taken[s.AttrOr(KeyAttr, "")] = true
	})

	var forms []page.Form
	doc.Find("form").Each(func(i int, s *goquery.Selection) {
		f := formFromSelection(i, s)
		if _, keyed := s.Attr(KeyAttr); !keyed && taken[f.Key] {
			return
		}
		forms = append(forms, f)
	})

	return forms, nil
}

func formFromSelection(index int, s *goquery.Selection) page.Form {
	id := s.AttrOr("id", "")
	key := s.AttrOr(KeyAttr, "")
	if key == "" {
		key = FormKey(id, index)
	}
	f := page.Form{
		Key:    key,
		Action: s.AttrOr("action", ""),
		ID:     id,
		Class:  s.AttrOr("class", ""),
		Name:   s.AttrOr("name", ""),
	}

	s.Find("input, select, textarea").Each(func(_ int, el *goquery.Selection) {
		tag := strings.ToLower(goquery.NodeName(el))
		fieldType := strings.ToLower(el.AttrOr("type", ""))
		switch {
		case tag == "input" && fieldType == "":
			fieldType = "text"
		case tag == "textarea":
			fieldType = "textarea"
		case tag == "select":
			fieldType = "select-one"
		}

		if fieldType == "submit" {
			if label := el.AttrOr("value", ""); label != "" {
				f.SubmitLabels = append(f.SubmitLabels, label)
			}
			return
		}

		value := el.AttrOr("value", "")
		if tag == "textarea" {
			value = el.Text()
		}

		f.Fields = append(f.Fields, page.Field{
			Tag:          tag,
			Type:         fieldType,
			Name:         el.AttrOr("name", ""),
			ID:           el.AttrOr("id", ""),
			Value:        value,
			Placeholder:  el.AttrOr("placeholder", ""),
			AriaLabel:    el.AttrOr("aria-label", ""),
			Autocomplete: el.AttrOr("autocomplete", ""),
			Rendered:     renderedHint(el),
		})
	})

	s.Find(`button[type="submit"], button:not([type])`).Each(func(_ int, el *goquery.Selection) {
		label := strings.TrimSpace(el.Text())
		if label == "" {
			label = el.AttrOr("aria-label", "")
		}
		if label != "" {
			f.SubmitLabels = append(f.SubmitLabels, label)
		}
	})

	return f
}

// renderedHint returns false for elements hidden by markup alone and nil otherwise;
// a static document cannot tell whether a stylesheet hides an element.
func renderedHint(el *goquery.Selection) *bool {
	hidden := false
	if _, ok := el.Attr("hidden"); ok {
		hidden = true
	}

	style := strings.ReplaceAll(strings.ToLower(el.AttrOr("style", "")), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		hidden = true
	}

	if !hidden {
		return nil
	}
	rendered := false
	return &rendered
}
