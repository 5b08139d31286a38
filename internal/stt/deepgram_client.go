package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/talkghana/asr-gateway/internal/apierror"
)

var deepgramInit sync.Once

// DeepgramClient implements Transcriber using Deepgram's pre-recorded REST API
type DeepgramClient struct {
	client *api.Client
	model  string
}

// NewDeepgramClient creates a new Deepgram pre-recorded client. model is used
// when a request does not name one of Deepgram's models.
func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	deepgramInit.Do(listenClient.InitWithDefault)

	c := listenClient.NewREST(apiKey, &interfaces.ClientOptions{})
	return &DeepgramClient{
		client: api.New(c),
		model:  model,
	}
}

// Transcribe sends the payload as a single pre-recorded request
func (d *DeepgramClient) Transcribe(ctx context.Context, req Request) (*Result, error) {
	model := d.model
	// whisper model ids belong to the primary endpoint, not Deepgram
	if req.Model != "" && !strings.Contains(req.Model, "/") {
		model = req.Model
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       model,
		Language:    req.Language,
		Punctuate:   true,
		SmartFormat: true,
	}

	res, err := d.client.FromStream(ctx, req.Payload.Reader(), options)
	if err != nil {
		return nil, fmt.Errorf("deepgram transcription failed: %w", err)
	}

	return resultFromDeepgram(res, req.Language, model)
}

// resultFromDeepgram takes the best alternative of the first channel
func resultFromDeepgram(res *restinterfaces.PreRecordedResponse, language, model string) (*Result, error) {
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return nil, apierror.Newf(apierror.KindNoResult, "deepgram response has no channels")
	}

	channel := res.Results.Channels[0]
	if len(channel.Alternatives) == 0 {
		return nil, apierror.Newf(apierror.KindNoResult, "deepgram response has no alternatives")
	}

	alt := channel.Alternatives[0]
	result := &Result{
		Text:     alt.Transcript,
		Language: language,
		Model:    model,
	}
	if alt.Confidence > 0 {
		confidence := alt.Confidence
		result.Confidence = &confidence
	}
	if channel.DetectedLanguage != "" {
		result.Language = channel.DetectedLanguage
	}
	return result, nil
}
