package executor

import (
	"context"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/core/graph"
	"github.com/frameloom/frameloom/core/parse"
	"github.com/frameloom/frameloom/core/resolve"
	"github.com/frameloom/frameloom/providers/assets"
	"github.com/frameloom/frameloom/providers/storage"
	"github.com/frameloom/frameloom/providers/tasks"
)

// Model defaults applied when node data carries no selection.
const (
	DefaultLLMModel   = "gpt-4o-mini"
	DefaultImageModel = "gpt-image-1"
)

// Request is one node execution.
type Request struct {
	// Node is the node to execute.
	Node *graph.Node

	// Inputs is the resolved input map for the node.
	Inputs map[string]any

	// UserID owns any assets the execution persists.
	UserID string
}

// Result is a successful node execution.
type Result struct {
	// Outputs is the node's output map, published to downstream consumers.
	Outputs map[string]any

	// TaskName is the remote task dispatched, if any.
	TaskName string

	// RemoteRunID is the remote run handle, if a task was dispatched.
	RemoteRunID string
}

// Executor dispatches node executions by kind.
type Executor struct {
	taskClient        *tasks.Client
	persister         assets.Persister
	defaultLLMModel   string
	defaultImageModel string
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultLLMModel overrides the model used when llm node data names none.
func WithDefaultLLMModel(model string) Option {
	return func(executor *Executor) {
		if model != "" {
			executor.defaultLLMModel = model
		}
	}
}

// WithDefaultImageModel overrides the model used when generate_image node
// data names none.
func WithDefaultImageModel(model string) Option {
	return func(executor *Executor) {
		if model != "" {
			executor.defaultImageModel = model
		}
	}
}

// New creates an Executor. A nil task client switches every compute kind to
// its deterministic local fallback.
func New(taskClient *tasks.Client, persister assets.Persister, options ...Option) *Executor {
	nodeExecutor := &Executor{
		taskClient:        taskClient,
		persister:         persister,
		defaultLLMModel:   DefaultLLMModel,
		defaultImageModel: DefaultImageModel,
	}
	for _, option := range options {
		option(nodeExecutor)
	}
	return nodeExecutor
}

// Execute runs one node and returns its outputs. Failures carry coded errors
// suitable for node run bookkeeping.
func (nodeExecutor *Executor) Execute(ctx context.Context, request Request) (*Result, error) {
	switch request.Node.Kind {
	case graph.KindText:
		return nodeExecutor.executeText(ctx, request)
	case graph.KindUploadImage:
		return nodeExecutor.executeUpload(ctx, request, "imageUrl", tasks.TaskUploadImagePassthrough)
	case graph.KindUploadVideo:
		return nodeExecutor.executeUpload(ctx, request, "videoUrl", tasks.TaskUploadVideoPassthrough)
	case graph.KindLLM:
		return nodeExecutor.executeLLM(ctx, request)
	case graph.KindCropImage:
		return nodeExecutor.executeCropImage(ctx, request)
	case graph.KindExtractFrame:
		return nodeExecutor.executeExtractFrame(ctx, request)
	case graph.KindGenerateImage:
		return nodeExecutor.executeGenerateImage(ctx, request)
	case graph.KindExportText:
		return executeExportText(request.Node, request.Inputs)
	case graph.KindExportImage:
		return nodeExecutor.executeExportMedia(ctx, request, storage.AssetImage)
	case graph.KindExportVideo:
		return nodeExecutor.executeExportMedia(ctx, request, storage.AssetVideo)
	default:
		return nil, apperr.InvalidNodeType(string(request.Node.Kind))
	}
}

// executeText emits the node's literal value, which may be empty. With a task
// client configured the passthrough still runs as a remote task so the node
// run records a remote handle, but the outputs stay the node's own value.
func (nodeExecutor *Executor) executeText(ctx context.Context, request Request) (*Result, error) {
	value, _ := parse.String(request.Node.Data["value"])
	outputs := map[string]any{"text": value, "value": value}

	if nodeExecutor.taskClient == nil {
		return &Result{Outputs: outputs}, nil
	}

	triggered, err := nodeExecutor.taskClient.TriggerAndPoll(ctx, tasks.TaskTextPassthrough, map[string]any{
		"value": value,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: outputs, TaskName: tasks.TaskTextPassthrough, RemoteRunID: triggered.RemoteRunID}, nil
}

// executeUpload passes through the pre-uploaded asset fields, dispatching the
// passthrough task remotely when a task client is configured.
func (nodeExecutor *Executor) executeUpload(ctx context.Context, request Request, urlKey, taskName string) (*Result, error) {
	node := request.Node
	assetURL, _ := parse.NonEmptyString(node.Data[urlKey])
	if assetURL == "" {
		assetURL, _ = parse.NonEmptyString(node.Data["url"])
	}
	if assetURL == "" {
		return nil, apperr.MissingAsset(string(node.Kind))
	}

	outputs := map[string]any{urlKey: assetURL, "url": assetURL}
	for _, passthroughKey := range []string{"assetId", "mimeType", "width", "height", "durationMs"} {
		if passthroughValue, present := node.Data[passthroughKey]; present && passthroughValue != nil {
			outputs[passthroughKey] = passthroughValue
		}
	}

	if nodeExecutor.taskClient == nil {
		return &Result{Outputs: outputs}, nil
	}

	triggered, err := nodeExecutor.taskClient.TriggerAndPoll(ctx, taskName, map[string]any{
		urlKey: assetURL,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: outputs, TaskName: taskName, RemoteRunID: triggered.RemoteRunID}, nil
}

func (nodeExecutor *Executor) executeLLM(ctx context.Context, request Request) (*Result, error) {
	userMessage, _ := parse.NonEmptyString(request.Inputs[graph.HandleUserMessage])
	if userMessage == "" {
		return nil, apperr.MissingInput(graph.HandleUserMessage)
	}

	systemPrompt, _ := parse.String(request.Inputs[graph.HandleSystemPrompt])
	model := nodeExecutor.modelFor(request.Node, "selectedModel", nodeExecutor.defaultLLMModel)
	imageURLs := stringList(request.Inputs[graph.HandleImages])

	if nodeExecutor.taskClient == nil {
		simulated := simulatedText(userMessage)
		return &Result{Outputs: map[string]any{"text": simulated, "response": simulated, "model": model}}, nil
	}

	triggered, err := nodeExecutor.taskClient.TriggerAndPoll(ctx, tasks.TaskLLMExecute, map[string]any{
		"model":        model,
		"systemPrompt": systemPrompt,
		"userMessage":  userMessage,
		"imageUrls":    imageURLs,
	})
	if err != nil {
		return nil, err
	}

	responseText := firstOutputString(triggered.Output, "text", "response")
	return &Result{
		Outputs:     map[string]any{"text": responseText, "response": responseText, "model": model},
		TaskName:    tasks.TaskLLMExecute,
		RemoteRunID: triggered.RemoteRunID,
	}, nil
}

func (nodeExecutor *Executor) executeCropImage(ctx context.Context, request Request) (*Result, error) {
	imageURL, _ := parse.NonEmptyString(request.Inputs[graph.HandleImageURL])
	if imageURL == "" {
		return nil, apperr.MissingInput(graph.HandleImageURL)
	}

	xPercent, yPercent, widthPercent, heightPercent := resolve.CropWindow(request.Inputs)

	if nodeExecutor.taskClient == nil {
		// Identity crop keeps local pipelines flowing.
		return &Result{Outputs: map[string]any{"croppedUrl": imageURL, "imageUrl": imageURL}}, nil
	}

	triggered, err := nodeExecutor.taskClient.TriggerAndPoll(ctx, tasks.TaskCropImage, map[string]any{
		"imageUrl":      imageURL,
		"xPercent":      xPercent,
		"yPercent":      yPercent,
		"widthPercent":  widthPercent,
		"heightPercent": heightPercent,
	})
	if err != nil {
		return nil, err
	}

	croppedURL := firstOutputString(triggered.Output, "croppedUrl", "url", "imageUrl")
	if croppedURL == "" {
		croppedURL = imageURL
	}
	return &Result{
		Outputs:     map[string]any{"croppedUrl": croppedURL, "imageUrl": croppedURL},
		TaskName:    tasks.TaskCropImage,
		RemoteRunID: triggered.RemoteRunID,
	}, nil
}

func (nodeExecutor *Executor) executeExtractFrame(ctx context.Context, request Request) (*Result, error) {
	videoURL, _ := parse.NonEmptyString(request.Inputs[graph.HandleVideoURL])
	if videoURL == "" {
		return nil, apperr.MissingInput(graph.HandleVideoURL)
	}

	timestamp, err := timestampFromInputs(request.Inputs)
	if err != nil {
		return nil, err
	}

	if nodeExecutor.taskClient == nil {
		placeholder := placeholderSVG("frame @ " + timestamp)
		return &Result{Outputs: frameOutputs(placeholder)}, nil
	}

	triggered, err := nodeExecutor.taskClient.TriggerAndPoll(ctx, tasks.TaskExtractFrame, map[string]any{
		"videoUrl":  videoURL,
		"timestamp": timestamp,
	})
	if err != nil {
		return nil, err
	}

	frameURL := firstOutputString(triggered.Output, "frameUrl", "extractedFrameUrl", "imageUrl", "url")
	if frameURL == "" {
		return nil, apperr.TaskFailed(tasks.TaskExtractFrame, triggered.RemoteRunID, "COMPLETED", "no frame url in output")
	}
	return &Result{
		Outputs:     frameOutputs(frameURL),
		TaskName:    tasks.TaskExtractFrame,
		RemoteRunID: triggered.RemoteRunID,
	}, nil
}

func frameOutputs(frameURL string) map[string]any {
	return map[string]any{"frameUrl": frameURL, "extractedFrameUrl": frameURL, "imageUrl": frameURL}
}

func (nodeExecutor *Executor) executeGenerateImage(ctx context.Context, request Request) (*Result, error) {
	prompt, _ := parse.NonEmptyString(request.Inputs[graph.HandlePrompt])
	if prompt == "" {
		return nil, apperr.MissingInput(graph.HandlePrompt)
	}

	model := nodeExecutor.modelFor(request.Node, "selectedModel", nodeExecutor.defaultImageModel)
	referenceImages := referenceList(request.Inputs)

	sourceURL := ""
	taskName := ""
	remoteRunID := ""

	if nodeExecutor.taskClient == nil {
		sourceURL = placeholderSVG(prompt)
	} else {
		triggered, err := nodeExecutor.taskClient.TriggerAndPoll(ctx, tasks.TaskGenerateImage, map[string]any{
			"prompt":          prompt,
			"model":           model,
			"referenceImages": referenceImages,
		})
		if err != nil {
			return nil, err
		}
		sourceURL = firstOutputString(triggered.Output, "imageUrl", "url", "b64Json")
		if sourceURL == "" {
			return nil, apperr.InvalidGenerationOutput()
		}
		taskName = tasks.TaskGenerateImage
		remoteRunID = triggered.RemoteRunID
	}

	persisted, err := nodeExecutor.persister.PersistDurable(ctx, assets.PersistRequest{
		UserID:    request.UserID,
		Kind:      storage.AssetImage,
		SourceURL: sourceURL,
	})
	if err != nil {
		return nil, err
	}

	outputs := map[string]any{
		"imageUrl": persisted.URL,
		"url":      persisted.URL,
		"assetId":  persisted.ID,
		"provider": persisted.Provider,
		"model":    model,
	}
	return &Result{Outputs: outputs, TaskName: taskName, RemoteRunID: remoteRunID}, nil
}

// executeExportText emits the final text, converting HTML to markdown when
// the node asks for the md format.
func executeExportText(node *graph.Node, resolvedInputs map[string]any) (*Result, error) {
	text, _ := parse.String(resolvedInputs[graph.HandleText])
	if _, present := resolvedInputs[graph.HandleText]; !present {
		return nil, apperr.MissingInput(graph.HandleText)
	}

	format, _ := parse.String(node.Data["format"])
	if format == "md" {
		markdown, err := htmltomarkdown.ConvertString(text)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeValidation, 400, "failed to convert text to markdown")
		}
		return &Result{Outputs: map[string]any{"text": markdown, "value": markdown, "format": "md"}}, nil
	}

	return &Result{Outputs: map[string]any{"text": text, "value": text, "format": "txt"}}, nil
}

func (nodeExecutor *Executor) executeExportMedia(ctx context.Context, request Request, kind storage.AssetKind) (*Result, error) {
	slot := graph.HandleImageURL
	if kind == storage.AssetVideo {
		slot = graph.HandleVideoURL
	}

	mediaURL, _ := parse.NonEmptyString(request.Inputs[slot])
	if mediaURL == "" {
		return nil, apperr.MissingInput(slot)
	}

	if err := checkMediaKind(mediaURL, kind); err != nil {
		return nil, err
	}

	persisted, err := nodeExecutor.persister.PersistDurable(ctx, assets.PersistRequest{
		UserID:    request.UserID,
		Kind:      kind,
		SourceURL: mediaURL,
	})
	if err != nil {
		return nil, err
	}

	outputs := map[string]any{
		slot:       persisted.URL,
		"url":      persisted.URL,
		"assetId":  persisted.ID,
		"provider": persisted.Provider,
	}
	if persisted.MimeType != nil {
		outputs["mimeType"] = *persisted.MimeType
	}
	return &Result{Outputs: outputs}, nil
}

// checkMediaKind rejects URLs that positively identify as the opposite media
// kind. URLs with no extension signal are allowed through; the durable
// provider settles their type on ingestion.
func checkMediaKind(mediaURL string, expectedKind storage.AssetKind) error {
	oppositeKind := storage.AssetVideo
	if expectedKind == storage.AssetVideo {
		oppositeKind = storage.AssetImage
	}

	if assets.MatchesKind("", mediaURL, expectedKind) {
		return nil
	}
	if assets.MatchesKind("", mediaURL, oppositeKind) {
		return apperr.InvalidMediaType("expected a %s url, got a %s", expectedKind, oppositeKind)
	}
	if strings.HasPrefix(mediaURL, "data:") && !strings.HasPrefix(mediaURL, "data:"+assets.MimeFamily(expectedKind)+"/") {
		return apperr.InvalidMediaType("data url is not a %s", expectedKind)
	}
	return nil
}

// modelFor reads the node's model selection, falling back to the default.
func (nodeExecutor *Executor) modelFor(node *graph.Node, dataKey, defaultModel string) string {
	if model, ok := parse.NonEmptyString(node.Data[dataKey]); ok {
		return model
	}
	return defaultModel
}

// firstOutputString walks candidate output keys and returns the first
// non-empty string value.
func firstOutputString(output map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := parse.NonEmptyString(output[key]); ok {
			return value
		}
	}
	return ""
}

// stringList coerces a fan-in slot into a string slice.
func stringList(value any) []string {
	rawList, isList := value.([]any)
	if !isList {
		return nil
	}
	coerced := make([]string, 0, len(rawList))
	for _, element := range rawList {
		if text, ok := parse.NonEmptyString(element); ok {
			coerced = append(coerced, text)
		}
	}
	return coerced
}

// referenceList gathers the optional reference image slots in order.
func referenceList(resolvedInputs map[string]any) []string {
	references := make([]string, 0, 2)
	for _, slot := range []string{graph.HandleReferenceA, graph.HandleReferenceB} {
		if reference, ok := parse.NonEmptyString(resolvedInputs[slot]); ok {
			references = append(references, reference)
		}
	}
	return references
}
