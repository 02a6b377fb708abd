package veo

import "strings"

// Category prompts for reference-image video generation. The category comes
// from the leading directory of the source object's path.
var promptMapping = map[string]string{
	"female_clothes":   "Generate a fashion studio shot of the attached female clothing. The woman in the video is wearing this clothing and is visible from the front before making a casual 180 degree turn to show the clothing from the back.",
	"female_underwear": "Generate a fashion studio shot of the attached female underwear. The woman in the video is wearing this underwear and is visible from the front before making a casual 180 degree turn to show the underwear from the back.",
	"male_clothes":     "Generate a fashion studio shot of the attached male clothing. The man in the video is wearing this clothing and is visible from the front before making a casual 180 degree turn to show the clothing from the back.",
	"male_underwear":   "Generate a fashion studio shot of the attached male underwear. The man in the video is wearing this underwear and is visible from the front before making a casual 180 degree turn to show the underwear from the back.",
}

const fallbackPrompt = "Generate a fashion studio shot of the attached product. The person in the video is wearing this product and is visible from the front before making a casual 180 degree turn to show the product from the back."

// PromptFor returns the generation prompt for a product category. Unknown
// categories get the generic fallback.
func PromptFor(category string) string {
	if prompt, ok := promptMapping[strings.ToLower(strings.TrimSpace(category))]; ok {
		return prompt
	}
	return fallbackPrompt
}

// ImageMIMEType maps a source object name to the MIME type the API expects.
// The bool is false for formats the generator cannot submit.
func ImageMIMEType(objectName string) (string, bool) {
	name := strings.ToLower(objectName)
	switch {
	case strings.HasSuffix(name, ".webp"):
		return "image/webp", true
	case strings.HasSuffix(name, ".png"):
		return "image/png", true
	case strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"):
		return "image/jpeg", true
	default:
		return "", false
	}
}
