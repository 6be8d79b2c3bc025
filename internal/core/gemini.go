package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"github.com/softwind-labs/companion/internal/config"
	"github.com/softwind-labs/companion/internal/prompt"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"
	defaultSummaryModelName   = "gemini-1.5-flash-latest"

	summarySystemInstruction = "You are a helpful assistant that summarizes roleplay conversations. " +
		"Produce a compact third-person summary of what has happened so far, a few sentences at most, " +
		"keeping names and important facts. Just return the summary itself, nothing else."
)

// GeminiService wraps the Gemini client used for managed completions,
// character-search embeddings and rolling chat summaries.
type GeminiService struct {
	client *genai.Client
}

func NewGeminiService() (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiService{client: client}, nil
}

func (s *GeminiService) Close() {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		log.Printf("Error closing GenAI client: %v", err)
	}
}

func (s *GeminiService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Complete serves the managed generation endpoint: a role-tagged prompt in,
// one complete reply out. The leading system block becomes the model's
// system instruction; the rest is replayed as chat history.
func (s *GeminiService) Complete(ctx context.Context, messages []prompt.Message, temperature float64, maxTokens int) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("prompt is empty for chat completion")
	}

	model := s.client.GenerativeModel(defaultChatModelName)

	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(m.Content)},
			}
		case "assistant":
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		default:
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		}
	}

	if temperature > 0 {
		temp := float32(temperature)
		model.GenerationConfig.Temperature = &temp
	}
	if maxTokens > 0 {
		max := int32(maxTokens)
		model.GenerationConfig.MaxOutputTokens = &max
	}

	if len(history) == 0 {
		return "", fmt.Errorf("prompt carries no conversation turns")
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		log.Println("Gemini response was empty or had no valid candidates/parts.")
		return "I'm sorry, I couldn't generate a response at this time. Please try again.", nil
	}
	return text, nil
}

// GenerateSummary condenses a conversation transcript into the rolling
// summary stored on the chat.
func (s *GeminiService) GenerateSummary(ctx context.Context, transcript string) (string, error) {
	model := s.client.GenerativeModel(defaultSummaryModelName)

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(summarySystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(200)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	resp, err := model.GenerateContent(ctx, genai.Text("Summarize this conversation:\n\n"+transcript))
	if err != nil {
		return "", fmt.Errorf("gemini summary generation request failed: %w", err)
	}

	summary := responseText(resp)
	if summary == "" {
		return "", fmt.Errorf("LLM generated an empty summary")
	}
	return strings.Trim(summary, "\"'\n\r\t ."), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	return sb.String()
}
