package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasPrefix(subject, SubjectEvents+"."):
		var p EventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ID == "" || p.Type == "" {
			return fmt.Errorf("schema validation failed for %s: id and type are required", subject)
		}
	case subject == SubjectCommands || strings.HasPrefix(subject, SubjectCommands+"."):
		var p CommandPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Type == "" {
			return fmt.Errorf("schema validation failed for %s: type is required", subject)
		}
	}
	return nil
}

// EventSubject builds the mirror subject for an event. Tokens that would
// break subject parsing are replaced.
func EventSubject(scope, key, typ string) string {
	if key == "" {
		key = "_"
	}
	return SubjectEvents + "." + token(scope) + "." + token(key) + "." + token(typ)
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func token(s string) string {
	return subjectReplacer.Replace(s)
}
