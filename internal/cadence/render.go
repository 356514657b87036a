package cadence

import (
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	placeholderStart = "{{"
	placeholderEnd   = "}}"
)

// RenderContent substitutes {{key}} placeholders with values. Unknown keys are left as written and
// a malformed template is returned unchanged.
func RenderContent(content string, values map[string]string) string {
	if !strings.Contains(content, placeholderStart) {
		return content
	}
	rendered, err := fasttemplate.ExecuteFuncStringWithErr(content, placeholderStart, placeholderEnd, func(w io.Writer, tag string) (int, error) {
		if v, ok := values[strings.TrimSpace(tag)]; ok {
			return io.WriteString(w, v)
		}
		return io.WriteString(w, placeholderStart+tag+placeholderEnd)
	})
	if err != nil {
		return content
	}
	return rendered
}

func placeholderValues(req GenerateRequest) map[string]string {
	values := make(map[string]string, len(req.Attributes)+4)
	for k, v := range req.Attributes {
		values[k] = v
	}
	values["lead_id"] = req.LeadID
	values["stage"] = req.StageName
	values["pipeline_id"] = req.PipelineID
	if req.OwnerID != "" {
		values["owner_id"] = req.OwnerID
	}
	return values
}
