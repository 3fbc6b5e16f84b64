package adapter

// JSON Schema builders for tool input schemas.

// Object builds an object schema. A nil props map yields an empty object.
func Object(props map[string]interface{}, required ...string) map[string]interface{} {
	if props == nil {
		props = map[string]interface{}{}
	}
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func StringParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func IntParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func NumberParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

func BoolParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func ObjectParam(description string) map[string]interface{} {
	return map[string]interface{}{"type": "object", "description": description}
}

func ArrayParam(description string, items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "description": description, "items": items}
}

func EnumParam(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description, "enum": values}
}
