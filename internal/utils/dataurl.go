package utils

import "strings"

// StripDataURL returns the base64 payload of an image data URL such as
// "data:image/jpeg;base64,...". Anything else is returned trimmed.
func StripDataURL(image string) string {
	image = strings.TrimSpace(image)
	if !strings.HasPrefix(image, "data:image") {
		return image
	}
	_, payload, found := strings.Cut(image, ",")
	if !found {
		return ""
	}
	return payload
}
