package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"docstream/internal/llm"
	"docstream/internal/workflow"
)

// analyzeImage re-submits the current image to the vision model with the
// question and the prior context, and records the step.
func (a *Analyzer) analyzeImage(ctx context.Context, state *segmentState, question, language string) string {
	if state.image == nil {
		return "No image available to analyze."
	}

	prompt := fmt.Sprintf(`Answer the following question about the document image.

Previous context:
%s

Question: %s

Answer in %s.`, state.previousContext, question, language)

	reply, err := a.provider.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt, Image: state.image, ImageMediaType: state.mediaType},
	}, nil, 2048)
	if err != nil {
		log.Warn().Err(err).Msg("analyze_image_vision_call_failed")
		return fmt.Sprintf("Error analyzing image: %v", err)
	}

	state.steps = append(state.steps, workflow.AnalysisStep{
		Step:     len(state.steps) + 1,
		Tool:     "analyze_image",
		Question: question,
		Answer:   reply.Content,
	})
	return reply.Content
}

// rotateImage rotates the in-memory image state so subsequent analyze_image
// calls see the rotated bytes. 90/180/270 take the orthogonal fast paths;
// arbitrary angles rotate freely with expansion.
func rotateImage(state *segmentState, degrees int) string {
	if state.image == nil {
		return "No image available to rotate."
	}

	img, _, err := image.Decode(bytes.NewReader(state.image))
	if err != nil {
		return fmt.Sprintf("Error rotating image: %v", err)
	}

	var rotated image.Image
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		rotated = imaging.Rotate270(img) // screen-clockwise
	case 180:
		rotated = imaging.Rotate180(img)
	case 270:
		rotated = imaging.Rotate90(img)
	default:
		rotated = imaging.Rotate(img, float64(-degrees), color.Transparent)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rotated, &jpeg.Options{Quality: 95}); err != nil {
		return fmt.Sprintf("Error encoding rotated image: %v", err)
	}
	state.image = buf.Bytes()
	state.mediaType = "image/jpeg"

	state.steps = append(state.steps, workflow.AnalysisStep{
		Step:    len(state.steps) + 1,
		Tool:    "rotate_image",
		Degrees: degrees,
		Result:  "Image rotated successfully",
	})
	return fmt.Sprintf("Image rotated %d degrees successfully. You can now analyze the rotated image.", degrees)
}
