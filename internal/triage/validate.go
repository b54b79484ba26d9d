package triage

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// Physiologic bounds enforced by the validator. Out-of-range values are
// rejected, never silently corrected.
const (
	minPressure = 40
	maxPressure = 260
	minHeart    = 20
	maxHeart    = 250
	maxAge      = 130
	maxGestWeek = 45

	// maxImageBytes caps the decoded image payload at 8 MiB.
	maxImageBytes = 8 << 20
)

// Validate normalizes and bounds-checks a case submission. It is a pure
// function: on success it returns a ValidatedCase, on failure an
// *InvalidInputError naming the offending field.
func Validate(sub *CaseSubmission) (*ValidatedCase, error) {
	if sub == nil {
		return nil, &InvalidInputError{Field: "body", Reason: "submission is required"}
	}

	name := strings.TrimSpace(sub.Name)
	if name == "" {
		return nil, &InvalidInputError{Field: "name", Reason: "patient name is required"}
	}
	if sub.Age < 0 || sub.Age > maxAge {
		return nil, &InvalidInputError{Field: "age", Reason: fmt.Sprintf("must be between 0 and %d", maxAge)}
	}
	if sub.GestationalAgeWeeks < 0 || sub.GestationalAgeWeeks > maxGestWeek {
		return nil, &InvalidInputError{Field: "gestational_age_weeks", Reason: fmt.Sprintf("must be between 0 and %d", maxGestWeek)}
	}

	v := sub.Vitals
	if v.Systolic == 0 {
		return nil, &InvalidInputError{Field: "vitals.systolic", Reason: "systolic pressure is required"}
	}
	if v.Diastolic == 0 {
		return nil, &InvalidInputError{Field: "vitals.diastolic", Reason: "diastolic pressure is required"}
	}
	if v.Systolic < minPressure || v.Systolic > maxPressure {
		return nil, &InvalidInputError{Field: "vitals.systolic", Reason: fmt.Sprintf("must be between %d and %d mmHg", minPressure, maxPressure)}
	}
	if v.Diastolic < minPressure || v.Diastolic > maxPressure {
		return nil, &InvalidInputError{Field: "vitals.diastolic", Reason: fmt.Sprintf("must be between %d and %d mmHg", minPressure, maxPressure)}
	}
	if v.HeartRate != nil && (*v.HeartRate < minHeart || *v.HeartRate > maxHeart) {
		return nil, &InvalidInputError{Field: "vitals.heart_rate", Reason: fmt.Sprintf("must be between %d and %d bpm", minHeart, maxHeart)}
	}

	proteinuria := strings.TrimSpace(strings.ToLower(v.Proteinuria))
	if proteinuria == "" {
		proteinuria = "none"
	}
	grade, ok := proteinuriaGrades[proteinuria]
	if !ok {
		return nil, &InvalidInputError{Field: "vitals.proteinuria", Reason: "must be one of: none, trace, 1+, 2+, 3+"}
	}

	symptoms := make(map[string]bool, len(sub.Symptoms))
	for _, s := range sub.Symptoms {
		key := strings.TrimSpace(strings.ToLower(s))
		if key == "" {
			continue
		}
		if !symptomVocabulary[key] {
			return nil, &InvalidInputError{Field: "symptoms", Reason: fmt.Sprintf("unknown symptom %q", key)}
		}
		symptoms[key] = true
	}

	var image []byte
	mediaType := ""
	if sub.ImageData != "" {
		var err error
		image, mediaType, err = decodeImage(sub.ImageData)
		if err != nil {
			return nil, &InvalidInputError{Field: "image_data", Reason: err.Error()}
		}
	}

	vc := &ValidatedCase{
		Name:                name,
		Age:                 sub.Age,
		GestationalAgeWeeks: sub.GestationalAgeWeeks,
		Notes:               strings.TrimSpace(sub.Notes),
		Vitals: Vitals{
			Systolic:    v.Systolic,
			Diastolic:   v.Diastolic,
			HeartRate:   v.HeartRate,
			Proteinuria: proteinuria,
		},
		ProteinuriaGrade: grade,
		Symptoms:         symptoms,
		Image:            image,
		ImageMediaType:   mediaType,
	}
	return vc, nil
}

// decodeImage decodes a base64 image payload, accepting an optional data-URL
// prefix, and sniffs a media type from the magic bytes.
func decodeImage(data string) ([]byte, string, error) {
	raw := data
	declared := ""
	if strings.HasPrefix(raw, "data:") {
		semi := strings.Index(raw, ";base64,")
		if semi < 0 {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		declared = raw[len("data:"):semi]
		raw = raw[semi+len(";base64,"):]
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, "", fmt.Errorf("not valid base64: %v", err)
	}
	if len(decoded) == 0 {
		return nil, "", fmt.Errorf("image payload is empty")
	}
	if len(decoded) > maxImageBytes {
		return nil, "", fmt.Errorf("image payload exceeds %d bytes", maxImageBytes)
	}

	mediaType := sniffImageType(decoded)
	if mediaType == "" {
		mediaType = declared
	}
	if mediaType == "" {
		return nil, "", fmt.Errorf("unrecognized image format")
	}
	return decoded, mediaType, nil
}

func sniffImageType(b []byte) string {
	switch {
	case len(b) >= 3 && bytes.Equal(b[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}):
		return "image/png"
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return "image/webp"
	}
	return ""
}
