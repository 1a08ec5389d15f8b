package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwrapJSONPlan(t *testing.T) {
	t.Run("extracts plan field", func(t *testing.T) {
		got := unwrapJSONPlan(`{"plan": "<analysis_plan></analysis_plan>", "note": "x"}`)
		assert.Equal(t, "<analysis_plan></analysis_plan>", got)
	})

	t.Run("passes through non-json", func(t *testing.T) {
		assert.Equal(t, "<agent/>", unwrapJSONPlan("<agent/>"))
	})

	t.Run("passes through json without plan", func(t *testing.T) {
		in := `{"other": 1}`
		assert.Equal(t, in, unwrapJSONPlan(in))
	})

	t.Run("passes through invalid json", func(t *testing.T) {
		in := `{"plan": `
		assert.Equal(t, in, unwrapJSONPlan(in))
	})
}

func TestStripMarkdownFences(t *testing.T) {
	t.Run("three backticks with xml hint", func(t *testing.T) {
		got := stripMarkdownFences("```xml\n<analysis_plan/>\n```")
		assert.Equal(t, "<analysis_plan/>", got)
	})

	t.Run("four backticks", func(t *testing.T) {
		got := stripMarkdownFences("````xml\n<analysis_plan/>\n````")
		assert.Equal(t, "<analysis_plan/>", got)
	})

	t.Run("unbalanced fences removed", func(t *testing.T) {
		got := stripMarkdownFences("```xml\n<analysis_plan/>")
		assert.Equal(t, "<analysis_plan/>", got)
	})

	t.Run("no fences untouched", func(t *testing.T) {
		assert.Equal(t, "<analysis_plan/>", stripMarkdownFences("<analysis_plan/>"))
	})
}

func TestStripControlChars(t *testing.T) {
	got := stripControlChars("a\x00b\x08c\td\ne")
	assert.Equal(t, "abc\td\ne", got)
}

func TestFixBareAgentName(t *testing.T) {
	got := fixBareAgentName(`<agent_1="Backend Specialist"><agent_2="Frontend">`)
	assert.Equal(t, `<agent_1 name="Backend Specialist"><agent_2 name="Frontend">`, got)
}

func TestQuoteBareAttributes(t *testing.T) {
	got := quoteBareAttributes(`<agent_1 name=Backend>`)
	assert.Equal(t, `<agent_1 name="Backend">`, got)
}

func TestEscapeBareAmpersands(t *testing.T) {
	t.Run("escapes bare ampersand", func(t *testing.T) {
		assert.Equal(t, "API &amp; CLI", escapeBareAmpersands("API & CLI"))
	})

	t.Run("existing entities preserved", func(t *testing.T) {
		in := "a &amp; b &lt; c &#39; d &#x27; e"
		assert.Equal(t, in, escapeBareAmpersands(in))
	})

	t.Run("trailing ampersand", func(t *testing.T) {
		assert.Equal(t, "end&amp;", escapeBareAmpersands("end&"))
	})
}

func TestClosePlanWrapper(t *testing.T) {
	t.Run("closes unterminated wrapper", func(t *testing.T) {
		got := closePlanWrapper("<analysis_plan>\n<agent_1 name=\"A\"></agent_1>")
		assert.Contains(t, got, "</analysis_plan>")
	})

	t.Run("balanced document untouched", func(t *testing.T) {
		in := "<analysis_plan></analysis_plan>"
		assert.Equal(t, in, closePlanWrapper(in))
	})
}

func TestWrapLoosePlan(t *testing.T) {
	t.Run("wraps bare agents", func(t *testing.T) {
		got := wrapLoosePlan(`<agent name="X"><file>a.py</file></agent>`)
		assert.Contains(t, got, "<analysis_plan>")
		assert.Contains(t, got, "</analysis_plan>")
	})

	t.Run("leaves wrapped plans alone", func(t *testing.T) {
		in := "<analysis_plan><agent_1/></analysis_plan>"
		assert.Equal(t, in, wrapLoosePlan(in))
	})

	t.Run("ignores text without agents", func(t *testing.T) {
		assert.Equal(t, "hello", wrapLoosePlan("hello"))
	})
}

func TestApplyRepairs_Combined(t *testing.T) {
	raw := "Here is the plan:\n```xml\n<agent_1=\"API & Data\"><file_path>a.py</file_path></agent_1>\n```"
	got := applyRepairs(raw)
	assert.Contains(t, got, `<agent_1 name="API &amp; Data">`)
	assert.Contains(t, got, "<analysis_plan>")
}
