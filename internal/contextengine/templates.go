package contextengine

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/llmgateway/gateway/internal/models"
)

const baseInstruction = `You are an intelligent AI assistant in a multi-tenant gateway platform.
Your role is to provide helpful, accurate, and contextually relevant responses.`

var taskInstructions = map[models.TaskType]string{
	models.TaskCodeGeneration: `Focus on writing clean, efficient, and well-documented code.
Consider best practices, security implications, and maintainability.
Provide explanations for complex logic and suggest improvements when appropriate.`,
	models.TaskDataAnalysis: `Analyze data systematically and provide clear insights.
Use appropriate statistical methods and visualizations.
Explain your methodology and highlight key findings.`,
	models.TaskCreativeWriting: `Be creative and engaging while maintaining coherence.
Adapt your writing style to the requested genre or format.
Focus on originality and compelling narrative structure.`,
	models.TaskProblemSolving: `Break down complex problems into manageable components.
Consider multiple approaches and evaluate trade-offs.
Provide step-by-step solutions with clear reasoning.`,
	models.TaskResearch: `Provide comprehensive and well-researched information.
Cite relevant sources and distinguish between facts and opinions.
Organize information logically and highlight key points.`,
}

var taskToolMapping = map[models.TaskType][]string{
	models.TaskCodeGeneration:  {"code_executor", "syntax_checker", "documentation_generator"},
	models.TaskDataAnalysis:    {"data_processor", "chart_generator", "statistical_analyzer"},
	models.TaskResearch:        {"web_search", "document_reader", "citation_formatter"},
	models.TaskCreativeWriting: {"grammar_checker", "style_analyzer", "thesaurus"},
}

func preferencesHash(p models.UserPreferences) uint64 {
	h := fnv.New64a()
	h.Write([]byte(p.CommunicationStyle + "|" + p.DetailLevel + "|" + p.ExpertiseLevel))
	return h.Sum64()
}

func templateCacheKey(taskType models.TaskType, p models.UserPreferences) string {
	return fmt.Sprintf("system_%s_%x", taskType, preferencesHash(p))
}

// systemInstructions builds the task- and preference-adapted system
// prompt, consulting and populating the template cache.
func (e *Engine) systemInstructions(req models.ContextRequest) string {
	key := templateCacheKey(req.TaskType, req.Preferences)

	e.templateMu.RLock()
	if cached, ok := e.templateCache[key]; ok {
		e.templateMu.RUnlock()
		return cached
	}
	e.templateMu.RUnlock()

	var b strings.Builder
	b.WriteString(baseInstruction)

	if task, ok := taskInstructions[req.TaskType]; ok && task != "" {
		b.WriteString("\n\nTask-specific guidance:\n")
		b.WriteString(task)
	}

	var adaptations []string
	switch req.Preferences.CommunicationStyle {
	case "formal":
		adaptations = append(adaptations, "Use formal language and professional tone.")
	case "casual":
		adaptations = append(adaptations, "Use conversational and approachable language.")
	}
	switch req.Preferences.DetailLevel {
	case "high":
		adaptations = append(adaptations, "Provide detailed explanations and comprehensive coverage.")
	case "low":
		adaptations = append(adaptations, "Keep responses concise and focus on key points.")
	}
	switch req.Preferences.ExpertiseLevel {
	case "beginner":
		adaptations = append(adaptations, "Explain concepts clearly and avoid technical jargon.")
	case "expert":
		adaptations = append(adaptations, "Use technical terminology and assume advanced knowledge.")
	}

	if len(adaptations) > 0 {
		b.WriteString("\n\nUser preferences:\n")
		for _, a := range adaptations {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}

	instruction := strings.TrimRight(b.String(), "\n")

	e.templateMu.Lock()
	if len(e.templateCache) < e.cfg.TemplateCacheSize {
		e.templateCache[key] = instruction
	}
	e.templateMu.Unlock()

	return instruction
}

// selectTools intersects the task's recommended tool names with the
// tools the caller actually made available.
func (e *Engine) selectTools(req models.ContextRequest) []models.Tool {
	if len(req.AvailableTools) == 0 {
		return nil
	}
	recommended := taskToolMapping[req.TaskType]
	if len(recommended) == 0 {
		return nil
	}

	available := make(map[string]bool, len(req.AvailableTools))
	for _, name := range req.AvailableTools {
		available[name] = true
	}

	var tools []models.Tool
	for _, name := range recommended {
		if !available[name] {
			continue
		}
		tools = append(tools, models.Tool{
			Type: "function",
			Function: models.ToolFunction{
				Name:        name,
				Description: "Tool for " + strings.ReplaceAll(name, "_", " "),
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
					"required":   []string{},
				},
			},
		})
	}
	return tools
}
