package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LabelSafe is the classifier label for acceptable content.
const LabelSafe = "sfw"

const classifierScript = `
import json, sys
from transformers import pipeline
from PIL import Image

classifier = pipeline("image-classification", model=sys.argv[1])
if len(sys.argv) < 3:
    print(json.dumps({"label": "sfw", "score": 1.0}))
    sys.exit(0)
results = classifier(Image.open(sys.argv[2]).convert("RGB"))
best = max(results, key=lambda r: r["score"])
print(json.dumps({"label": best["label"], "score": float(best["score"])}))
`

// Classification is the top label the classifier assigned to an image.
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Safe reports whether the classification passes at threshold.
func (c Classification) Safe(threshold float64) bool {
	return strings.EqualFold(c.Label, LabelSafe) || c.Score < threshold
}

// NSFWClassifier runs an image-classification model through a Python
// interpreter with the transformers package installed.
type NSFWClassifier struct {
	Python string
	Model  string
	Run    CommandRunner
}

// NewNSFWClassifier constructs a classifier for model using python.
func NewNSFWClassifier(python, model string) *NSFWClassifier {
	if strings.TrimSpace(python) == "" {
		python = "python3"
	}
	return &NSFWClassifier{Python: python, Model: model, Run: RunCommand}
}

func (c *NSFWClassifier) runner() CommandRunner {
	if c.Run == nil {
		return RunCommand
	}
	return c.Run
}

// Classify returns the most likely label for the image at imagePath.
func (c *NSFWClassifier) Classify(ctx context.Context, imagePath string) (Classification, error) {
	out, err := c.runner()(ctx, c.Python, "-c", classifierScript, c.Model, imagePath)
	if err != nil {
		return Classification{}, fmt.Errorf("classify frame: %w", err)
	}
	return parseClassification(out)
}

// Warmup loads the model once so the first moderation job does not pay the
// download and initialisation cost.
func (c *NSFWClassifier) Warmup(ctx context.Context) error {
	if _, err := c.runner()(ctx, c.Python, "-c", classifierScript, c.Model); err != nil {
		return fmt.Errorf("warm up classifier: %w", err)
	}
	return nil
}

func parseClassification(out []byte) (Classification, error) {
	// Model loading may print progress lines before the result.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	var result Classification
	if err := json.Unmarshal([]byte(last), &result); err != nil {
		return Classification{}, fmt.Errorf("parse classifier output: %w", err)
	}
	if result.Label == "" {
		return Classification{}, fmt.Errorf("classifier returned no label")
	}
	result.Label = strings.ToLower(result.Label)
	return result, nil
}
