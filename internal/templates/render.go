package templates

import (
	"sort"

	"github.com/aymerick/raymond"

	"medinotify/internal/types"
)

// Sub-template field names, used in error details.
const (
	FieldTitle        = "title"
	FieldBody         = "body"
	FieldEmailSubject = "email_subject"
	FieldEmailBody    = "email_body"
	FieldSMS          = "sms"
)

type subTemplate struct {
	field string
	src   *string
	dst   **string
	html  bool
}

func subTemplates(t *types.Template, out *types.RenderedContent) []subTemplate {
	return []subTemplate{
		{field: FieldTitle, src: t.Title, dst: &out.Title},
		{field: FieldBody, src: t.Body, dst: &out.Body},
		{field: FieldEmailSubject, src: t.EmailSubject, dst: &out.EmailSubject},
		{field: FieldEmailBody, src: t.EmailBody, dst: &out.EmailBody, html: true},
		{field: FieldSMS, src: t.SMS, dst: &out.SMS},
	}
}

// Validate reports the required variables of t that data does not carry. A
// variable bound to nil or an empty string counts as missing.
func Validate(t *types.Template, data types.DataBag) types.ValidationResult {
	missing := []string{}
	for _, name := range t.RequiredVariables() {
		if !data.Has(name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return types.ValidationResult{Valid: len(missing) == 0, Missing: missing}
}

// Render validates data against t and renders every sub-template t defines.
// Undefined sub-templates stay nil in the result. Only the email body
// HTML-escapes data; the other fields are plain text and take values as is.
func Render(t *types.Template, data types.DataBag) (*types.RenderedContent, error) {
	if result := Validate(t, data); !result.Valid {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeTemplateData,
			"template data is missing required variables", nil,
			map[string]any{"type": string(t.Type), "missing": result.Missing})
	}

	ctx := map[string]interface{}(data)
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	plainCtx := safeValues(ctx)

	out := &types.RenderedContent{}
	for _, sub := range subTemplates(t, out) {
		if sub.src == nil {
			continue
		}
		tpl, err := parse(t, sub)
		if err != nil {
			return nil, err
		}
		var rendered string
		if sub.html {
			rendered, err = tpl.Exec(ctx)
		} else {
			rendered, err = tpl.Exec(plainCtx)
		}
		if err != nil {
			return nil, syntaxError(t, sub.field, err)
		}
		*sub.dst = &rendered
	}
	return out, nil
}

// Compile parses every sub-template of t without rendering, so malformed
// placeholders are rejected before a version is stored.
func Compile(t *types.Template) error {
	var scratch types.RenderedContent
	for _, sub := range subTemplates(t, &scratch) {
		if sub.src == nil {
			continue
		}
		if _, err := parse(t, sub); err != nil {
			return err
		}
	}
	return nil
}

func parse(t *types.Template, sub subTemplate) (*raymond.Template, error) {
	tpl, err := raymond.Parse(*sub.src)
	if err != nil {
		return nil, syntaxError(t, sub.field, err)
	}
	tpl.RegisterHelpers(helpers(!sub.html))
	return tpl, nil
}

// safeValues copies v with every string marked safe, so plain-text fields
// render data verbatim while literal template text is left alone.
func safeValues(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return raymond.SafeString(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = safeValues(e)
		}
		return out
	case types.DataBag:
		return safeValues(map[string]interface{}(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = safeValues(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = raymond.SafeString(e)
		}
		return out
	}
	return v
}

func syntaxError(t *types.Template, field string, err error) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeTemplateSyntax,
		"failed to render "+field+" template", err,
		map[string]any{"type": string(t.Type), "template_id": t.ID, "field": field})
}
