package graph

// Handle identifiers. Producers expose a single "output" handle; consumer
// handle ids double as the input slot names the executor reads, so resolved
// input maps can be keyed directly by target handle.
const (
	HandleOutput       = "output"
	HandleText         = "text"
	HandleImageURL     = "image_url"
	HandleVideoURL     = "video_url"
	HandleImages       = "images"
	HandleSystemPrompt = "system_prompt"
	HandleUserMessage  = "user_message"
	HandlePrompt       = "prompt"
	HandleReferenceA   = "reference_a"
	HandleReferenceB   = "reference_b"
)

// HandleSpec describes one typed input or output slot of a node kind.
type HandleSpec struct {
	// Type is the media type flowing through the handle.
	Type DataType

	// Required marks input handles that must be filled before execution.
	Required bool

	// Multiple marks input handles that accept fan-in from several producers.
	Multiple bool
}

// handleKey addresses a handle within the registry tables.
type handleKey struct {
	kind   Kind
	handle string
}

// outputHandles is the authoritative table of producer handles. Every kind
// exposes exactly one primary output whose type determines what consumers may
// attach to it.
var outputHandles = map[handleKey]HandleSpec{
	{KindText, HandleOutput}:          {Type: TypeText},
	{KindUploadImage, HandleOutput}:   {Type: TypeImage},
	{KindUploadVideo, HandleOutput}:   {Type: TypeVideo},
	{KindLLM, HandleOutput}:           {Type: TypeText},
	{KindCropImage, HandleOutput}:     {Type: TypeImage},
	{KindExtractFrame, HandleOutput}:  {Type: TypeImage},
	{KindGenerateImage, HandleOutput}: {Type: TypeImage},
	{KindExportText, HandleOutput}:    {Type: TypeText},
	{KindExportImage, HandleOutput}:   {Type: TypeImage},
	{KindExportVideo, HandleOutput}:   {Type: TypeVideo},
}

// inputHandles is the authoritative table of consumer handles.
var inputHandles = map[handleKey]HandleSpec{
	{KindLLM, HandleSystemPrompt}: {Type: TypeText},
	{KindLLM, HandleUserMessage}:  {Type: TypeText, Required: true},
	{KindLLM, HandleImages}:       {Type: TypeImage, Multiple: true},

	{KindCropImage, HandleImageURL}: {Type: TypeImage, Required: true},

	{KindExtractFrame, HandleVideoURL}: {Type: TypeVideo, Required: true},

	{KindGenerateImage, HandlePrompt}:     {Type: TypeText, Required: true},
	{KindGenerateImage, HandleReferenceA}: {Type: TypeImage},
	{KindGenerateImage, HandleReferenceB}: {Type: TypeImage},

	{KindExportText, HandleText}:      {Type: TypeText, Required: true},
	{KindExportImage, HandleImageURL}: {Type: TypeImage, Required: true},
	{KindExportVideo, HandleVideoURL}: {Type: TypeVideo, Required: true},
}

// OutputType resolves the data type of a producer handle. The second return
// is false when the (kind, handle) pair is not in the registry.
func OutputType(kind Kind, handle string) (DataType, bool) {
	spec, known := outputHandles[handleKey{kind, handle}]
	return spec.Type, known
}

// InputSpec resolves the spec of a consumer handle. The second return is
// false when the (kind, handle) pair is not in the registry.
func InputSpec(kind Kind, handle string) (HandleSpec, bool) {
	spec, known := inputHandles[handleKey{kind, handle}]
	return spec, known
}

// Compatible reports whether a producer handle may be connected to a consumer
// handle. Both sides must resolve in the registry and carry equal types;
// there is no implicit coercion between text, image and video.
func Compatible(srcKind Kind, srcHandle string, dstKind Kind, dstHandle string) bool {
	sourceType, sourceKnown := OutputType(srcKind, srcHandle)
	if !sourceKnown {
		return false
	}

	targetSpec, targetKnown := InputSpec(dstKind, dstHandle)
	if !targetKnown {
		return false
	}

	return sourceType == targetSpec.Type
}

// RequiredInputs returns the required input handle ids of a kind, in no
// particular order.
func RequiredInputs(kind Kind) []string {
	required := make([]string, 0, 2)
	for key, spec := range inputHandles {
		if key.kind == kind && spec.Required {
			required = append(required, key.handle)
		}
	}
	return required
}
