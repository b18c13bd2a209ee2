package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/integrations/paramstore"
)

type fakeModels struct {
	genResp   *genai.GenerateContentResponse
	genErr    error
	embedResp *genai.EmbedContentResponse
	embedErr  error

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.genResp, f.genErr
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.model, f.contents = model, contents
	return f.embedResp, f.embedErr
}

func newTestClient(t *testing.T, api modelsAPI, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(paramstore.StaticToken("key"), opts...)
	require.NoError(t, err)
	c.models = api
	return c
}

func reply(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: genai.NewContentFromText(text, genai.RoleModel)},
	}}
}

func TestNewClient_NilToken(t *testing.T) {
	_, err := NewClient(nil)
	require.ErrorContains(t, err, "nil")
}

func TestGenerate_FoldsSystemMessages(t *testing.T) {
	api := &fakeModels{genResp: reply("['UT_Austin']")}
	c := newTestClient(t, api, WithTemperature(0))

	msg, err := Completer{Client: c, Model: "gemini-2.0-flash"}.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "classify"},
		{Role: domain.RoleSystem, Content: "history"},
		{Role: domain.RoleHuman, Content: "hi"},
		{Role: domain.RoleAI, Content: "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.Message{Role: domain.RoleAI, Content: "['UT_Austin']"}, msg)

	require.Equal(t, "gemini-2.0-flash", api.model)
	require.Len(t, api.contents, 2)
	require.Equal(t, genai.RoleUser, api.contents[0].Role)
	require.Equal(t, "hi", api.contents[0].Parts[0].Text)
	require.Equal(t, genai.RoleModel, api.contents[1].Role)
	require.Equal(t, "classify\n\nhistory", api.config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, api.config.Temperature)
	require.Zero(t, *api.config.Temperature)
}

func TestGenerate_NoSystemInstruction(t *testing.T) {
	api := &fakeModels{genResp: reply("ok")}
	_, err := newTestClient(t, api).Generate(context.Background(), "m", []domain.Message{{Role: domain.RoleHuman, Content: "hi"}})
	require.NoError(t, err)
	require.Nil(t, api.config.SystemInstruction)
	require.Nil(t, api.config.Temperature)
}

func TestGenerate_Errors(t *testing.T) {
	_, err := newTestClient(t, &fakeModels{}).Generate(context.Background(), "", nil)
	require.ErrorContains(t, err, "model")

	_, err = newTestClient(t, &fakeModels{}).Generate(context.Background(), "m", nil)
	require.ErrorContains(t, err, "empty response")

	_, err = newTestClient(t, &fakeModels{genErr: errors.New("dial tcp")}).Generate(context.Background(), "m", nil)
	require.ErrorContains(t, err, "generate content")
	var statusErr *StatusError
	require.False(t, errors.As(err, &statusErr))
}

func TestGenerate_APIErrorExposesStatus(t *testing.T) {
	api := &fakeModels{genErr: genai.APIError{Code: http.StatusTooManyRequests, Message: "quota", Status: "RESOURCE_EXHAUSTED"}}
	_, err := newTestClient(t, api).Generate(context.Background(), "m", nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestEmbed(t *testing.T) {
	api := &fakeModels{embedResp: &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2}}}}}
	vec, err := Embedder{Client: newTestClient(t, api), Model: "text-embedding-004"}.Embed(context.Background(), "tuition")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2}, vec)
	require.Equal(t, "text-embedding-004", api.model)
	require.Equal(t, "tuition", api.contents[0].Parts[0].Text)
}

func TestEmbed_Errors(t *testing.T) {
	_, err := newTestClient(t, &fakeModels{embedResp: &genai.EmbedContentResponse{}}).Embed(context.Background(), "m", "x")
	require.ErrorContains(t, err, "no embedding")

	_, err = newTestClient(t, &fakeModels{embedErr: errors.New("boom")}).Embed(context.Background(), "m", "x")
	require.ErrorContains(t, err, "embed content")

	_, err = newTestClient(t, &fakeModels{}).Embed(context.Background(), "", "x")
	require.ErrorContains(t, err, "model")
}

type failingSource struct{ calls int }

func (f *failingSource) GetToken(context.Context, string) (string, error) {
	f.calls++
	return "", errors.New("AccessDenied")
}

func TestClient_TokenErrorIsRetried(t *testing.T) {
	src := &failingSource{}
	tok, err := paramstore.NewToken(src, "gemini-token")
	require.NoError(t, err)
	c, err := NewClient(tok)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "m", "x")
	require.ErrorContains(t, err, "AccessDenied")
	_, err = c.Generate(context.Background(), "m", nil)
	require.ErrorContains(t, err, "resolve api key")
	require.Equal(t, 2, src.calls)
	require.Nil(t, c.models)
}
