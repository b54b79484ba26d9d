package triage

import (
	"encoding/base64"
	"strings"
	"testing"
)

func validSubmission() *CaseSubmission {
	return &CaseSubmission{
		Name:                "Amina Yusuf",
		Age:                 29,
		GestationalAgeWeeks: 34,
		Vitals: Vitals{
			Systolic:    120,
			Diastolic:   80,
			Proteinuria: "none",
		},
		Symptoms: []string{SymptomOedema},
	}
}

func TestValidate_Accepts(t *testing.T) {
	t.Parallel()

	vc, err := Validate(validSubmission())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if vc.Name != "Amina Yusuf" {
		t.Errorf("Name = %q", vc.Name)
	}
	if !vc.HasSymptom(SymptomOedema) {
		t.Error("oedema symptom lost in validation")
	}
	if vc.ProteinuriaGrade != 0 {
		t.Errorf("ProteinuriaGrade = %d, want 0", vc.ProteinuriaGrade)
	}
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*CaseSubmission)
		wantField string
	}{
		{"missing name", func(s *CaseSubmission) { s.Name = "  " }, "name"},
		{"negative age", func(s *CaseSubmission) { s.Age = -1 }, "age"},
		{"implausible age", func(s *CaseSubmission) { s.Age = 131 }, "age"},
		{"gestation too long", func(s *CaseSubmission) { s.GestationalAgeWeeks = 46 }, "gestational_age_weeks"},
		{"missing systolic", func(s *CaseSubmission) { s.Vitals.Systolic = 0 }, "vitals.systolic"},
		{"systolic too low", func(s *CaseSubmission) { s.Vitals.Systolic = 39 }, "vitals.systolic"},
		{"systolic too high", func(s *CaseSubmission) { s.Vitals.Systolic = 261 }, "vitals.systolic"},
		{"diastolic too high", func(s *CaseSubmission) { s.Vitals.Diastolic = 300 }, "vitals.diastolic"},
		{"heart rate out of range", func(s *CaseSubmission) { hr := 10; s.Vitals.HeartRate = &hr }, "vitals.heart_rate"},
		{"bad proteinuria", func(s *CaseSubmission) { s.Vitals.Proteinuria = "4+" }, "vitals.proteinuria"},
		{"unknown symptom", func(s *CaseSubmission) { s.Symptoms = []string{"dizziness"} }, "symptoms"},
		{"bad image", func(s *CaseSubmission) { s.ImageData = "!!not-base64!!" }, "image_data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sub := validSubmission()
			tt.mutate(sub)
			_, err := Validate(sub)
			if err == nil {
				t.Fatal("Validate accepted invalid submission")
			}
			ie, ok := AsInvalidInput(err)
			if !ok {
				t.Fatalf("error type = %T, want *InvalidInputError", err)
			}
			if ie.Field != tt.wantField {
				t.Errorf("field = %q, want %q", ie.Field, tt.wantField)
			}
		})
	}
}

func TestValidate_NormalizesSymptomsAndProteinuria(t *testing.T) {
	t.Parallel()

	sub := validSubmission()
	sub.Symptoms = []string{" Headache ", "HEADACHE", ""}
	sub.Vitals.Proteinuria = " 2+ "

	vc, err := Validate(sub)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(vc.Symptoms) != 1 || !vc.HasSymptom(SymptomHeadache) {
		t.Errorf("Symptoms = %v, want deduped headache", vc.SymptomList())
	}
	if vc.Vitals.Proteinuria != "2+" || vc.ProteinuriaGrade != 3 {
		t.Errorf("proteinuria = %q grade %d, want 2+ grade 3", vc.Vitals.Proteinuria, vc.ProteinuriaGrade)
	}
}

func TestValidate_DecodesImage(t *testing.T) {
	t.Parallel()

	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, []byte("pixels")...)
	encoded := base64.StdEncoding.EncodeToString(png)

	sub := validSubmission()
	sub.ImageData = "data:image/png;base64," + encoded

	vc, err := Validate(sub)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if vc.ImageMediaType != "image/png" {
		t.Errorf("media type = %q, want image/png", vc.ImageMediaType)
	}
	if len(vc.Image) != len(png) {
		t.Errorf("image bytes = %d, want %d", len(vc.Image), len(png))
	}
}

func TestValidate_RejectsOversizeImage(t *testing.T) {
	t.Parallel()

	big := make([]byte, maxImageBytes+1)
	copy(big, []byte{0xFF, 0xD8, 0xFF})
	sub := validSubmission()
	sub.ImageData = base64.StdEncoding.EncodeToString(big)

	_, err := Validate(sub)
	ie, ok := AsInvalidInput(err)
	if !ok {
		t.Fatalf("error = %v, want InvalidInputError", err)
	}
	if ie.Field != "image_data" || !strings.Contains(ie.Reason, "exceeds") {
		t.Errorf("unexpected error %v", ie)
	}
}
