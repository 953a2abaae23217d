package llm

import (
	"fmt"
	"strings"

	"github.com/pavelanni/examgen/internal/model"
)

func buildGeneratePrompt(cfg model.ExamConfig, feedback string) string {
	instructions := cfg.SpecificInstructions
	if instructions == "" {
		instructions = "None"
	}

	var sb strings.Builder
	sb.WriteString("You are an expert Technical Interviewer and Exam Setter.\n\n")
	sb.WriteString("**YOUR OBJECTIVE:**\n")
	sb.WriteString("Generate a high-quality technical exam JSON strictly following the configuration below.\n\n")
	sb.WriteString("**CONFIGURATION:**\n")
	sb.WriteString("- **Difficulty:** " + string(cfg.Difficulty) + "\n")
	sb.WriteString("- **Experience:** " + string(cfg.Experience) + "\n")
	sb.WriteString("- **Topic:** " + cfg.Topic() + "\n")
	sb.WriteString(fmt.Sprintf("- **Count:** %d\n", cfg.NumQuestions))
	sb.WriteString("- **Format:** " + cfg.Format() + "\n")
	if cfg.MCQFormat && cfg.MCQCodingFormat {
		sb.WriteString("- **MCQ style:** coding-oriented (questions built around code snippets)\n")
	}
	sb.WriteString("- **Instructions:** " + instructions + "\n\n")
	sb.WriteString("**CRITICAL JSON FORMATTING RULES:**\n")
	sb.WriteString("1. Output **ONLY** valid JSON. No introductory text, no markdown, no explanations.\n")
	sb.WriteString("2. **ESCAPE ALL SPECIAL CHARACTERS** inside strings.\n")
	sb.WriteString("   - Use `\\n` for newlines.\n")
	sb.WriteString("   - Use `\\t` for tabs.\n")
	sb.WriteString("   - Use `\\\"` for quotes inside strings.\n")
	sb.WriteString("3. Do NOT include real (unescaped) newlines or control characters within string values.\n\n")
	sb.WriteString("**REQUIRED JSON STRUCTURE:**\n")
	sb.WriteString("{\n")
	sb.WriteString("    \"exam_title\": \"String\",\n")
	sb.WriteString("    \"summary\": \"String\",\n")
	sb.WriteString("    \"questions\": [\n")
	sb.WriteString("        {\n")
	sb.WriteString("            \"id\": 1,\n")
	sb.WriteString("            \"type\": \"" + cfg.Format() + "\",\n")
	sb.WriteString("            \"question_text\": \"String (Escape quotes and newlines properly)\",\n")
	sb.WriteString("            \"options\": [\"A\", \"B\", \"C\", \"D\"], (If MCQ)\n")
	sb.WriteString("            \"correct_answer\": \"String\",\n")
	sb.WriteString("            \"explanation\": \"String\"\n")
	sb.WriteString("        }\n")
	sb.WriteString("    ]\n")
	sb.WriteString("}\n")

	if feedback != "" {
		sb.WriteString("\n**PREVIOUS ATTEMPT FEEDBACK (FIX THESE ISSUES):**\n")
		sb.WriteString(feedback)
		sb.WriteString("\n")
	}

	return sb.String()
}

func buildEvaluatePrompt(cfg model.ExamConfig, examJSON string) string {
	var sb strings.Builder
	sb.WriteString("You are a Strict Quality Assurance AI.\n")
	sb.WriteString("Evaluate the provided Exam JSON against these requirements:\n")
	sb.WriteString("- Topic: " + cfg.Topic() + "\n")
	sb.WriteString("- Difficulty: " + string(cfg.Difficulty) + "\n")
	sb.WriteString(fmt.Sprintf("- Question Count: %d\n\n", cfg.NumQuestions))
	sb.WriteString("Output strictly valid JSON:\n")
	sb.WriteString("{\n")
	sb.WriteString("    \"score\": (Integer 0-100),\n")
	sb.WriteString("    \"approved\": (Boolean, true if score > 85),\n")
	sb.WriteString("    \"feedback\": \"Short specific string describing what is wrong. If perfect, write 'Looks good'.\"\n")
	sb.WriteString("}\n\n")
	sb.WriteString("Exam Data to Evaluate:\n")
	sb.WriteString(examJSON)
	sb.WriteString("\n")
	return sb.String()
}

func buildFormatPrompt(examJSON string) string {
	var sb strings.Builder
	sb.WriteString("Convert this Exam JSON into a clean HTML structure.\n\n")
	sb.WriteString("**Styling Classes (Mandatory):**\n")
	sb.WriteString("- Wrapper: `exam-preview-wrapper`\n")
	sb.WriteString("- Header: `exam-title` (h2), `exam-summary` (p)\n")
	sb.WriteString("- Card: `question-card`\n")
	sb.WriteString("- Text: `question-text`\n")
	sb.WriteString("- MCQ Grid: `options-grid` -> `option-item`\n")
	sb.WriteString("- Correct Answer: Add class `correct-answer` to the correct `option-item`.\n")
	sb.WriteString("- Explanation: `explanation-box`\n\n")
	sb.WriteString("Input: " + examJSON + "\n")
	sb.WriteString("Output: Raw HTML string only. No Markdown.\n")
	return sb.String()
}
