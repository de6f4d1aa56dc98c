package backend

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/pkg/anthropic"
)

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1500, OutputTokens: 400},
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

const visionJSON = "```json\n" + `{"totalArea": 2150, "confidence": 0.9, "facets": [{"id": "a", "area": 2150, "pitch": "6/12", "type": "main"}]}` + "\n```"

func TestVisionClient_WithImage(t *testing.T) {
	m := &mockAnthropic{}
	img := pngBytes(t)
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			return false
		}
		msg := req.Messages[0]
		return req.Model == "claude-test" &&
			req.MaxTokens == 2048 &&
			len(req.System) == 1 &&
			msg.Images[0].MediaType == "image/png" &&
			bytes.Equal(msg.Images[0].Data, img) &&
			bytes.Contains([]byte(msg.Content), []byte("Address: 12 Elm St"))
	})).Return(textResponse(visionJSON), nil)

	client := NewVisionClient(m, WithModel("claude-test"), WithMaxTokens(2048), WithVisionRetry(fastRetry()))
	resp, err := client.AnalyzeImage(context.Background(), estimate.ImageRequest{
		Address:   "12 Elm St",
		ImageData: img,
		Context:   estimate.ImageContext{Season: estimate.SeasonSummer},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.TotalArea)
	assert.InDelta(t, 2150, *resp.TotalArea, 0.001)
	assert.Len(t, resp.Facets, 1)
	assert.Equal(t, "claude-test", resp.ModelVersion)
	m.AssertExpectations(t)
}

func TestVisionClient_TextOnly(t *testing.T) {
	m := &mockAnthropic{}
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages[0].Images) == 0 &&
			bytes.Contains([]byte(req.Messages[0].Content), []byte("No image is available"))
	})).Return(textResponse(`Sure: {"totalArea": 1800, "confidence": 0.5, "modelVersion": "v9"}`), nil)

	resp, err := NewVisionClient(m).AnalyzeImage(context.Background(), estimate.ImageRequest{Address: "1 Oak"})
	require.NoError(t, err)
	assert.Equal(t, "v9", resp.ModelVersion)
	m.AssertExpectations(t)
}

func TestVisionClient_UnsupportedImage(t *testing.T) {
	m := &mockAnthropic{}
	_, err := NewVisionClient(m).AnalyzeImage(context.Background(), estimate.ImageRequest{
		Address:   "1 Oak",
		ImageData: []byte("%PDF-1.7 not an image"),
	})
	var be *model.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.BackendErrRequest, be.Kind)
	assert.Equal(t, estimate.ImageBackendName, be.Backend)
	m.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestVisionClient_ParseFailure(t *testing.T) {
	m := &mockAnthropic{}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("I cannot see a roof."), nil).Once()

	_, err := NewVisionClient(m, WithVisionRetry(fastRetry())).AnalyzeImage(context.Background(), estimate.ImageRequest{Address: "1 Oak"})
	var be *model.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.BackendErrParse, be.Kind)
	m.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestVisionClient_RetriesTransientFailure(t *testing.T) {
	m := &mockAnthropic{}
	m.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("read tcp: connection reset by peer")).Once()
	m.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(visionJSON), nil).Once()

	resp, err := NewVisionClient(m, WithVisionRetry(fastRetry())).AnalyzeImage(context.Background(), estimate.ImageRequest{Address: "1 Oak"})
	require.NoError(t, err)
	assert.NotNil(t, resp)
	m.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestVisionClient_PermanentFailure(t *testing.T) {
	m := &mockAnthropic{}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid api key")).Once()

	_, err := NewVisionClient(m, WithVisionRetry(fastRetry())).AnalyzeImage(context.Background(), estimate.ImageRequest{Address: "1 Oak"})
	var be *model.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.BackendErrRequest, be.Kind)
	m.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestVisionClient_SatisfiesImageBackend(t *testing.T) {
	var _ estimate.ImageBackend = NewVisionClient(&mockAnthropic{})
	var _ estimate.StructuralBackend = NewStructuralClient("http://x", "")
}
