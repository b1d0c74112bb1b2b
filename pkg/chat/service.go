// Package chat is the text surface of the client: single-shot generative
// calls with streamed fragments, plus the image-edit flow for attachments.
package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultChatModel  = "gemini-3-flash-preview"
	defaultImageModel = "gemini-2.5-flash-image"

	// Failures never cross the boundary as errors; the surface renders
	// these fragments instead.
	msgGenerateFailed = "Neural connection error. Visual processing failed to initialize."
	msgNoImageData    = "Neural processor failed to generate visual data. Check instruction clarity."

	defaultImagePrompt = "Analyze and edit this image professionally."

	// imageEditPrefix marks a fragment carrying an edited image as a data
	// URL rather than display text.
	imageEditPrefix = "[IMAGE_EDIT_COMPLETE] "
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of prior conversation.
type Message struct {
	Role Role
	Text string
}

// Attachment is an inline image the user wants edited or analyzed.
type Attachment struct {
	Data     []byte
	MimeType string
}

// Request is one user turn to answer.
type Request struct {
	Prompt       string
	History      []Message
	UserName     string
	Attachment   *Attachment
	OperatorMode bool
}

// generator is the slice of the genai client the service needs. The real
// implementation is client.Models.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Service answers chat requests. Text-only requests stream fragments from
// the chat model; requests with an attachment go to the image model in a
// single call.
type Service struct {
	gen        generator
	logger     *zap.Logger
	chatModel  string
	imageModel string
}

func NewService(ctx context.Context, apiKey string, logger *zap.Logger) (*Service, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Service{
		gen:        client.Models,
		logger:     logger,
		chatModel:  defaultChatModel,
		imageModel: defaultImageModel,
	}, nil
}

// StreamMessage answers one request, delivering fragments to onFragment in
// order, and returns the concatenated reply. Failures are reported as a
// terminal fragment, never as an error.
func (s *Service) StreamMessage(ctx context.Context, req Request, onFragment func(string)) string {
	var full strings.Builder
	emit := func(text string) {
		full.WriteString(text)
		onFragment(text)
	}

	if req.Attachment != nil {
		s.editImage(ctx, req, emit)
	} else {
		s.streamText(ctx, req, emit)
	}
	return full.String()
}

func (s *Service) streamText(ctx context.Context, req Request, emit func(string)) {
	contents := historyContents(req.History)
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(chatSystemInstruction(req.OperatorMode), genai.RoleUser),
		Temperature:       genai.Ptr(float32(0.2)),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(0))},
	}

	for resp, err := range s.gen.GenerateContentStream(ctx, s.chatModel, contents, config) {
		if err != nil {
			s.logger.Error("chat stream failed",
				zap.String("user", req.UserName), zap.Error(err))
			emit(msgGenerateFailed)
			return
		}
		for _, part := range responseParts(resp) {
			if part.Text != "" {
				emit(part.Text)
			}
		}
	}
}

func (s *Service) editImage(ctx context.Context, req Request, emit func(string)) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultImagePrompt
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(req.Attachment.Data, req.Attachment.MimeType),
		genai.NewPartFromText(prompt),
	}, genai.RoleUser)}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(imageSystemInstruction(req.OperatorMode), genai.RoleUser),
	}

	resp, err := s.gen.GenerateContent(ctx, s.imageModel, contents, config)
	if err != nil {
		s.logger.Error("image edit failed",
			zap.String("user", req.UserName), zap.Error(err))
		emit(msgGenerateFailed)
		return
	}

	parts := responseParts(resp)
	for _, part := range parts {
		switch {
		case part.InlineData != nil:
			dataURL := fmt.Sprintf("data:%s;base64,%s",
				part.InlineData.MIMEType,
				base64.StdEncoding.EncodeToString(part.InlineData.Data))
			emit(imageEditPrefix + dataURL)
		case part.Text != "":
			emit(part.Text)
		}
	}
	if len(parts) == 0 {
		emit(msgNoImageData)
	}
}

// IsImageFragment reports whether a fragment carries an edited image, and
// returns the data URL when it does.
func IsImageFragment(fragment string) (string, bool) {
	if strings.HasPrefix(fragment, imageEditPrefix) {
		return strings.TrimPrefix(fragment, imageEditPrefix), true
	}
	return "", false
}

func chatSystemInstruction(operator bool) string {
	if operator {
		return "You are a Senior Human Operator at Xino Neural Network. Primary language: English. Provide expert human assistance."
	}
	return "You are Xino, a professional AI assistant developed by UMT students. Primary language: English. Be formal, direct, and use standard punctuation. No asterisks."
}

func imageSystemInstruction(operator bool) string {
	if operator {
		return "You are a Senior Human Operator and master visual editor. Primary language: English. Execute the requested image modifications perfectly."
	}
	return "You are Xino, a professional AI visual editor. Primary language: English. When a user provides an image and a request (like 'remove background', 'edit', or 'change'), your goal is to generate the modified image. Output the resulting image data directly."
}

func historyContents(history []Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range history {
		role := genai.RoleUser
		if msg.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, genai.Role(role)))
	}
	return contents
}

func responseParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}
