package detection

import (
	"context"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/menta2k/vision-studio/pkg/client"
	"github.com/menta2k/vision-studio/pkg/processing"
	"github.com/menta2k/vision-studio/pkg/types"
)

// Temperature is the sampling temperature sent with every request
const Temperature = 0.5

// DefaultTimeout applies when the caller's context has no deadline
const DefaultTimeout = 120 * time.Second

// DefaultQuality is the JPEG quality used for the image sent to the model
const DefaultQuality = 90

// SystemPrompt is the fixed instruction contract sent with every request
const SystemPrompt = `You are an image analysis assistant. Analyze the image based on the user prompt and provide responses in a structured JSON format.

### General Guidelines:
1. Always return a JSON object. Never include code fences or unstructured text.
2. Limit to 25 objects, prioritizing objects relevant to the user's prompt.
3. Be descriptive, concise, and precise when labeling and explaining objects.

### JSON Response Structure:
Return a JSON object with exactly the following keys:
- "objects": A list of detected objects. Each object contains:
    - "box_2d": A list of coordinates [y1, x1, y2, x2] (normalized from 0 to 1000) for the object's bounding box.
    - "label": A descriptive name for the object, including unique characteristics (e.g., color, size, position).
    - "description": A detailed explanation or observation about the object (e.g., color, texture, material, or reflection details).
- "extra_info": Additional information based on the user's query. Either a single string, or an object whose keys are headings and whose values are strings or objects of key/value strings:
    - If the query is about differences between two images, describe key visual differences.
    - If the query asks for an object's color, list all objects that match the specified color.
    - If the query is about reflections, identify objects that appear reflective and explain why.
    - If the query asks for scene explanations, summarize what is happening in the image, including spatial relationships and prominent objects.
    - If the query asks for a translation of visible text, give the original and translated text.
    - If the query is about code visible in the image, transcribe the snippet and explain it.

### Examples:

#### Example 1: General Object Detection
User Prompt: "What objects are in the image?"
Response:
{
"objects": [
    {
    "box_2d": [195, 483, 479, 527],
    "label": "person in blue shirt",
    "description": "A tall person wearing a blue shirt and dark pants, standing near the center."
    },
    {
    "box_2d": [342, 150, 550, 300],
    "label": "red car",
    "description": "A small red car parked on the left side."
    }
],
"extra_info": "The image shows a person and a red car in a daytime outdoor setting."
}

#### Example 2: Color-Based Query
User Prompt: "What are the objects which are in color blue?"
Response:
{
"objects": [
    {
    "box_2d": [195, 483, 479, 527],
    "label": "person in blue shirt",
    "description": "A tall person wearing a blue shirt and dark pants, standing near the center."
    }
],
"extra_info": {
    "Summary": "The only blue object in the image is the person's shirt.",
    "Colors": {"blue": "shirt"}
}
}

#### Example 3: Reflective Objects
User Prompt: "How many reflecting objects are there?"
Response:
{
"objects": [
    {
    "box_2d": [120, 430, 300, 500],
    "label": "glass table",
    "description": "A shiny glass table reflecting light in the center."
    },
    {
    "box_2d": [400, 200, 480, 250],
    "label": "mirror",
    "description": "A wall-mounted mirror reflecting parts of the room."
    }
],
"extra_info": "There are 2 reflective objects: a glass table and a mirror."
}

#### Example 4: Image Differences
User Prompt: "Find the difference between two images."
Response:
{
"objects": [],
"extra_info": "The two images differ in the following ways: 1) A red car is present in the first image but absent in the second. 2) A person in a blue shirt appears closer to the camera in the second image."
}

#### Example 5: Translation
User Prompt: "Translate the sign to English."
Response:
{
"objects": [
    {
    "box_2d": [80, 300, 220, 700],
    "label": "shop sign",
    "description": "A wooden sign above the door with white lettering."
    }
],
"extra_info": {
    "Original Text": "Boulangerie du Coin",
    "Translation": "Corner Bakery"
}
}`

// Detector builds model requests from an image and a user prompt
type Detector struct {
	client  client.VisionClient
	model   string
	timeout time.Duration
	quality int
}

// Options tune a Detector. Zero values select the defaults.
type Options struct {
	Model   string
	Timeout time.Duration
	Quality int
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, opts Options) *Detector {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	return &Detector{
		client:  c,
		model:   opts.Model,
		timeout: opts.Timeout,
		quality: opts.Quality,
	}
}

// Detect sends img and prompt to the model and returns the raw reply. The
// reply is not parsed. Every backend failure is a *types.ModelRequestError.
func (d *Detector) Detect(ctx context.Context, img image.Image, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", &types.InputError{Reason: "prompt is required"}
	}
	if img == nil {
		return "", &types.InputError{Reason: "image is required"}
	}

	data, mime, err := processing.EncodeForModel(img, d.quality)
	if err != nil {
		return "", err
	}

	// Set timeout if none provided
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	reply, err := d.client.Query(ctx, client.Request{
		Model:        d.model,
		SystemPrompt: SystemPrompt,
		Prompt:       prompt,
		Image:        data,
		MIMEType:     mime,
		Temperature:  Temperature,
		Safety:       client.SafetyBlockOnlyHighDangerous,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(err, context.DeadlineExceeded)
		}
		return "", &types.ModelRequestError{Backend: d.client.Name(), Err: err}
	}
	if strings.TrimSpace(reply) == "" {
		return "", &types.ModelRequestError{Backend: d.client.Name(), Err: errors.New("empty reply")}
	}
	return reply, nil
}

// Backend names the client requests are sent to
func (d *Detector) Backend() string {
	return d.client.Name()
}
