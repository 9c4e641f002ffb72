package repository

// immutableFields are never changed by an incoming patch, per §6.
var immutableFields = map[string]bool{
	"id":         true,
	"repo_id":    true,
	"created_at": true,
}

// DeepMergePatch applies patch onto dst (both generic JSON-shaped maps),
// per §9 "deep-merge on update": top-level primitives replace, nested maps
// merge recursively, arrays replace wholesale (no concatenation), and
// immutable fields are silently dropped from the incoming patch.
func DeepMergePatch(dst map[string]any, patch map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range patch {
		if immutableFields[k] {
			continue
		}
		if existing, ok := dst[k]; ok {
			if existingMap, ok1 := existing.(map[string]any); ok1 {
				if patchMap, ok2 := v.(map[string]any); ok2 {
					dst[k] = DeepMergePatch(existingMap, patchMap)
					continue
				}
			}
		}
		dst[k] = v
	}
	return dst
}
