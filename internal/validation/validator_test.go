package validation

import (
	"errors"
	"testing"

	"github.com/gracechurch/publisher/internal/domain"
)

type draft struct {
	Title string `json:"title" validate:"notblank,max=10"`
	Slug  string `json:"slug" validate:"omitempty,slug"`
	Inner struct {
		Handle string `json:"handle" validate:"notblank"`
	} `json:"inner"`
}

func TestStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name   string
		input  draft
		fields map[string]string
	}{
		{
			name: "valid",
			input: func() draft {
				d := draft{Title: "Hello", Slug: "hello-world"}
				d.Inner.Handle = "jane"
				return d
			}(),
		},
		{
			name:   "blank title and handle",
			input:  draft{Title: "   "},
			fields: map[string]string{"title": "notblank", "inner.handle": "notblank"},
		},
		{
			name: "bad slug",
			input: func() draft {
				d := draft{Title: "Hello", Slug: "Hello World"}
				d.Inner.Handle = "jane"
				return d
			}(),
			fields: map[string]string{"slug": "slug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(v, tt.input)
			if tt.fields == nil {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			for field, tag := range tt.fields {
				if verr.Fields[field] != tag {
					t.Errorf("Expected %s=%s, got fields %v", field, tag, verr.Fields)
				}
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Error("Expected errors.Is ErrValidation")
			}
		})
	}
}
