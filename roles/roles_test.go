package roles

import (
	"testing"

	"github.com/google/uuid"
)

func TestIDFromSlugDeterministic(t *testing.T) {
	a := IDFromSlug("subscriber")
	b := IDFromSlug("subscriber")
	if a != b {
		t.Errorf("same slug must derive the same id: %s vs %s", a, b)
	}
	if a == IDFromSlug("administrator") {
		t.Error("distinct slugs must derive distinct ids")
	}
	if a.Version() != 5 {
		t.Errorf("role ids are uuidv5, got version %d", a.Version())
	}
	if a == uuid.Nil {
		t.Error("derived id must not be the nil uuid")
	}
}

func TestElevated(t *testing.T) {
	for slug, want := range map[string]bool{
		"administrator": true,
		"editor":        true,
		"subscriber":    false,
		"author":        false,
		"":              false,
	} {
		if got := Elevated(slug); got != want {
			t.Errorf("Elevated(%q) = %v, want %v", slug, got, want)
		}
	}
}
