package resolve

import (
	"github.com/frameloom/frameloom/core/graph"
	"github.com/frameloom/frameloom/core/parse"
)

// Default crop window when the node's data omits the percentages.
const (
	DefaultCropX      = 0.0
	DefaultCropY      = 0.0
	DefaultCropWidth  = 100.0
	DefaultCropHeight = 100.0
)

// Inputs resolves the input map for targetNode. Each incoming edge
// contributes the producer's primary value under the edge's target handle;
// the "images" slot accumulates a list across fan-in edges, every other slot
// is a scalar. Afterwards per-kind defaults from the node's own data fill any
// slot no edge supplied.
func Inputs(targetNode *graph.Node, workflowGraph *graph.Graph, outputs map[string]map[string]any) map[string]any {
	resolvedInputs := make(map[string]any)

	for _, incomingEdge := range workflowGraph.IncomingEdges(targetNode.ID) {
		producer := workflowGraph.NodeByID(incomingEdge.Source)
		if producer == nil {
			continue
		}

		producedValue := PrimaryValue(producer, outputs[producer.ID])
		if producedValue == nil {
			continue
		}

		slot := incomingEdge.TargetHandle
		if slot == graph.HandleImages {
			imageList, _ := resolvedInputs[slot].([]any)
			resolvedInputs[slot] = append(imageList, producedValue)
			continue
		}
		resolvedInputs[slot] = producedValue
	}

	applyNodeDefaults(targetNode, resolvedInputs)
	return resolvedInputs
}

// PrimaryValue computes the value a producer contributes downstream. Each
// kind has a fallback chain across its recorded outputs and, last, the
// node's authored data, so partially-populated outputs from older runs and
// pre-uploaded assets still resolve. Export kinds contribute their whole
// outputs map.
func PrimaryValue(producer *graph.Node, producerOutputs map[string]any) any {
	switch producer.Kind {
	case graph.KindText:
		return firstValue(producerOutputs, producer.Data, []string{"text", "value"}, []string{"value"})
	case graph.KindUploadImage:
		return firstValue(producerOutputs, producer.Data, []string{"imageUrl", "url"}, []string{"imageUrl"})
	case graph.KindUploadVideo:
		return firstValue(producerOutputs, producer.Data, []string{"videoUrl", "url"}, []string{"videoUrl"})
	case graph.KindLLM:
		return firstValue(producerOutputs, producer.Data, []string{"text", "response"}, []string{"response"})
	case graph.KindCropImage:
		return firstValue(producerOutputs, producer.Data, []string{"croppedUrl", "imageUrl"}, []string{"croppedUrl"})
	case graph.KindExtractFrame:
		return firstValue(producerOutputs, producer.Data, []string{"frameUrl", "extractedFrameUrl"}, []string{"extractedFrameUrl"})
	case graph.KindGenerateImage:
		return firstValue(producerOutputs, producer.Data, []string{"imageUrl", "url"}, []string{"imageUrl"})
	case graph.KindExportText, graph.KindExportImage, graph.KindExportVideo:
		if len(producerOutputs) == 0 {
			return nil
		}
		return producerOutputs
	default:
		return nil
	}
}

// CropWindow reads the crop percentages from a resolved input map, coercing
// numbers and numeric strings and falling back to the full frame.
func CropWindow(resolvedInputs map[string]any) (xPercent, yPercent, widthPercent, heightPercent float64) {
	xPercent = parse.Float(resolvedInputs["x_percent"], DefaultCropX)
	yPercent = parse.Float(resolvedInputs["y_percent"], DefaultCropY)
	widthPercent = parse.Float(resolvedInputs["width_percent"], DefaultCropWidth)
	heightPercent = parse.Float(resolvedInputs["height_percent"], DefaultCropHeight)
	return xPercent, yPercent, widthPercent, heightPercent
}

// applyNodeDefaults fills slots no edge supplied from the node's own data.
// The editor stores node data in camelCase; slots use snake_case handle ids.
func applyNodeDefaults(targetNode *graph.Node, resolvedInputs map[string]any) {
	switch targetNode.Kind {
	case graph.KindLLM:
		fillFromData(resolvedInputs, graph.HandleSystemPrompt, targetNode.Data, "systemPrompt")
		fillFromData(resolvedInputs, graph.HandleUserMessage, targetNode.Data, "userMessage")
	case graph.KindCropImage:
		fillFromData(resolvedInputs, "x_percent", targetNode.Data, "xPercent")
		fillFromData(resolvedInputs, "y_percent", targetNode.Data, "yPercent")
		fillFromData(resolvedInputs, "width_percent", targetNode.Data, "widthPercent")
		fillFromData(resolvedInputs, "height_percent", targetNode.Data, "heightPercent")
	case graph.KindExtractFrame:
		fillFromData(resolvedInputs, "timestamp", targetNode.Data, "timestamp")
	case graph.KindGenerateImage:
		fillFromData(resolvedInputs, graph.HandlePrompt, targetNode.Data, "prompt")
	}
}

// fillFromData copies nodeData[dataKey] into resolvedInputs[slot] when the
// slot is still empty and the data value is present.
func fillFromData(resolvedInputs map[string]any, slot string, nodeData map[string]any, dataKey string) {
	if _, filled := resolvedInputs[slot]; filled {
		return
	}
	if value, present := nodeData[dataKey]; present && value != nil {
		resolvedInputs[slot] = value
	}
}

// firstValue walks the fallback chain: outputKeys against the producer's
// recorded outputs first, then dataKeys against its authored data. Empty
// strings do not satisfy a step.
func firstValue(producerOutputs, nodeData map[string]any, outputKeys, dataKeys []string) any {
	for _, outputKey := range outputKeys {
		if value, present := producerOutputs[outputKey]; present && !isEmptyValue(value) {
			return value
		}
	}
	for _, dataKey := range dataKeys {
		if value, present := nodeData[dataKey]; present && !isEmptyValue(value) {
			return value
		}
	}
	return nil
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	if text, isString := value.(string); isString {
		return text == ""
	}
	return false
}
