package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"iter"
	"strings"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type stubGenerator struct {
	// captured by the last call
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig

	resp      *genai.GenerateContentResponse
	err       error
	streamed  []*genai.GenerateContentResponse
	streamErr error
}

func (g *stubGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.model = model
	g.contents = contents
	g.config = config
	return g.resp, g.err
}

func (g *stubGenerator) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	g.model = model
	g.contents = contents
	g.config = config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, resp := range g.streamed {
			if !yield(resp, nil) {
				return
			}
		}
		if g.streamErr != nil {
			yield(nil, g.streamErr)
		}
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func newTestService(gen *stubGenerator) *Service {
	return &Service{
		gen:        gen,
		logger:     zap.NewNop(),
		chatModel:  defaultChatModel,
		imageModel: defaultImageModel,
	}
}

func TestStreamMessageText(t *testing.T) {
	gen := &stubGenerator{
		streamed: []*genai.GenerateContentResponse{
			textResponse("Hello, "),
			textResponse("Amina."),
		},
	}
	svc := newTestService(gen)

	var fragments []string
	full := svc.StreamMessage(context.Background(), Request{
		Prompt:   "greet me",
		History:  []Message{{Role: RoleUser, Text: "hi"}, {Role: RoleModel, Text: "Hello."}},
		UserName: "Amina",
	}, func(f string) { fragments = append(fragments, f) })

	if full != "Hello, Amina." {
		t.Errorf("unexpected full reply %q", full)
	}
	if len(fragments) != 2 || fragments[0] != "Hello, " || fragments[1] != "Amina." {
		t.Errorf("unexpected fragments %v", fragments)
	}
	if gen.model != defaultChatModel {
		t.Errorf("unexpected model %q", gen.model)
	}
	// history (2) + current prompt
	if len(gen.contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(gen.contents))
	}
	if gen.contents[1].Role != genai.RoleModel {
		t.Errorf("history role not preserved: %q", gen.contents[1].Role)
	}
	if gen.config.SystemInstruction == nil ||
		!strings.Contains(gen.config.SystemInstruction.Parts[0].Text, "You are Xino") {
		t.Error("default persona not set as system instruction")
	}
}

func TestStreamMessageOperatorMode(t *testing.T) {
	gen := &stubGenerator{streamed: []*genai.GenerateContentResponse{textResponse("Done.")}}
	svc := newTestService(gen)

	svc.StreamMessage(context.Background(), Request{Prompt: "x", OperatorMode: true}, func(string) {})

	if gen.config.SystemInstruction == nil ||
		!strings.Contains(gen.config.SystemInstruction.Parts[0].Text, "Senior Human Operator") {
		t.Error("operator persona not set as system instruction")
	}
}

func TestStreamMessageFailureBecomesFragment(t *testing.T) {
	gen := &stubGenerator{
		streamed:  []*genai.GenerateContentResponse{textResponse("partial ")},
		streamErr: errors.New("quota exceeded"),
	}
	svc := newTestService(gen)

	var fragments []string
	full := svc.StreamMessage(context.Background(), Request{Prompt: "x"}, func(f string) {
		fragments = append(fragments, f)
	})

	if len(fragments) != 2 || fragments[1] != msgGenerateFailed {
		t.Errorf("expected terminal failure fragment, got %v", fragments)
	}
	if !strings.HasSuffix(full, msgGenerateFailed) {
		t.Errorf("full reply missing failure text: %q", full)
	}
}

func TestStreamMessageImageEdit(t *testing.T) {
	img := []byte{0x89, 0x50, 0x4e, 0x47}
	gen := &stubGenerator{
		resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: "image/png", Data: img}},
					{Text: "Background removed."},
				}},
			}},
		},
	}
	svc := newTestService(gen)

	var fragments []string
	svc.StreamMessage(context.Background(), Request{
		Prompt:     "remove background",
		Attachment: &Attachment{Data: []byte{1, 2, 3}, MimeType: "image/jpeg"},
	}, func(f string) { fragments = append(fragments, f) })

	if gen.model != defaultImageModel {
		t.Errorf("attachment request did not use the image model, got %q", gen.model)
	}
	if len(gen.contents) != 1 || gen.contents[0].Parts[0].InlineData == nil {
		t.Fatal("attachment not sent as inline data")
	}

	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %v", fragments)
	}
	url, ok := IsImageFragment(fragments[0])
	if !ok {
		t.Fatalf("first fragment is not an image fragment: %q", fragments[0])
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
	if url != want {
		t.Errorf("unexpected data URL %q", url)
	}
	if fragments[1] != "Background removed." {
		t.Errorf("text part not forwarded: %q", fragments[1])
	}
}

func TestStreamMessageImageEditDefaultsPrompt(t *testing.T) {
	gen := &stubGenerator{resp: textResponse("ok")}
	svc := newTestService(gen)

	svc.StreamMessage(context.Background(), Request{
		Attachment: &Attachment{Data: []byte{1}, MimeType: "image/png"},
	}, func(string) {})

	if gen.contents[0].Parts[1].Text != defaultImagePrompt {
		t.Errorf("empty prompt not defaulted, got %q", gen.contents[0].Parts[1].Text)
	}
}

func TestStreamMessageImageEditNoParts(t *testing.T) {
	gen := &stubGenerator{resp: &genai.GenerateContentResponse{}}
	svc := newTestService(gen)

	var fragments []string
	svc.StreamMessage(context.Background(), Request{
		Prompt:     "edit",
		Attachment: &Attachment{Data: []byte{1}, MimeType: "image/png"},
	}, func(f string) { fragments = append(fragments, f) })

	if len(fragments) != 1 || fragments[0] != msgNoImageData {
		t.Errorf("expected no-image fallback, got %v", fragments)
	}
}

func TestStreamMessageImageEditError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("backend down")}
	svc := newTestService(gen)

	var fragments []string
	svc.StreamMessage(context.Background(), Request{
		Prompt:     "edit",
		Attachment: &Attachment{Data: []byte{1}, MimeType: "image/png"},
	}, func(f string) { fragments = append(fragments, f) })

	if len(fragments) != 1 || fragments[0] != msgGenerateFailed {
		t.Errorf("expected failure fragment, got %v", fragments)
	}
}
