package model

import (
	"fmt"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// MetaKind discriminates the variant held by a MetaValue
type MetaKind string

const (
	KindString MetaKind = "string"
	KindNumber MetaKind = "number"
	KindBool   MetaKind = "bool"
	KindList   MetaKind = "list"
	KindMap    MetaKind = "map"
)

// MetaValue is a tagged variant for structured record metadata. Exactly one
// payload field is meaningful, selected by Kind. The closed set of kinds keeps
// equality and merge logic exhaustive instead of switching on reflection.
type MetaValue struct {
	Kind MetaKind
	Str  string
	Num  float64
	Bool bool
	List []MetaValue
	Map  map[string]MetaValue
}

// MetaString wraps a string as a MetaValue
func MetaString(s string) MetaValue {
	return MetaValue{Kind: KindString, Str: s}
}

// MetaNumber wraps a number as a MetaValue
func MetaNumber(n float64) MetaValue {
	return MetaValue{Kind: KindNumber, Num: n}
}

// MetaBool wraps a boolean as a MetaValue
func MetaBool(b bool) MetaValue {
	return MetaValue{Kind: KindBool, Bool: b}
}

// MetaList wraps a list of values as a MetaValue
func MetaList(items ...MetaValue) MetaValue {
	return MetaValue{Kind: KindList, List: items}
}

// MetaMap wraps a nested map as a MetaValue
func MetaMap(m map[string]MetaValue) MetaValue {
	return MetaValue{Kind: KindMap, Map: m}
}

// Validate checks that the value and everything nested under it carries a
// known kind
func (v MetaValue) Validate() error {
	switch v.Kind {
	case KindString, KindNumber, KindBool:
		return nil
	case KindList:
		for i, item := range v.List {
			if err := item.Validate(); err != nil {
				return goerr.Wrap(err, "invalid list element", goerr.V("index", i))
			}
		}
		return nil
	case KindMap:
		for key, item := range v.Map {
			if err := item.Validate(); err != nil {
				return goerr.Wrap(err, "invalid map entry", goerr.V(MetaKeyKey, key))
			}
		}
		return nil
	default:
		return goerr.Wrap(ErrUnknownMetaKind, "metadata value has unknown kind",
			goerr.T(types.ErrTagValidation), goerr.V("kind", string(v.Kind)))
	}
}

// Equal reports deep equality of two values. Values of different kinds are
// never equal.
func (v MetaValue) Equal(other MetaValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for key, item := range v.Map {
			otherItem, ok := other.Map[key]
			if !ok || !item.Equal(otherItem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the value
func (v MetaValue) Clone() MetaValue {
	out := v
	if v.List != nil {
		out.List = make([]MetaValue, len(v.List))
		for i, item := range v.List {
			out.List[i] = item.Clone()
		}
	}
	if v.Map != nil {
		out.Map = make(map[string]MetaValue, len(v.Map))
		for key, item := range v.Map {
			out.Map[key] = item.Clone()
		}
	}
	return out
}

// ToNative converts the value into plain Go types (string, float64, bool,
// []any, map[string]any) for JSON responses and prompt rendering.
func (v MetaValue) ToNative() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			items[i] = item.ToNative()
		}
		return items
	case KindMap:
		m := make(map[string]any, len(v.Map))
		for key, item := range v.Map {
			m[key] = item.ToNative()
		}
		return m
	default:
		return nil
	}
}

// MetaValueFromNative converts a plain Go value (as decoded from JSON or
// Firestore) into a MetaValue. Unsupported types are a validation error.
func MetaValueFromNative(value any) (MetaValue, error) {
	switch val := value.(type) {
	case string:
		return MetaString(val), nil
	case float64:
		return MetaNumber(val), nil
	case float32:
		return MetaNumber(float64(val)), nil
	case int:
		return MetaNumber(float64(val)), nil
	case int32:
		return MetaNumber(float64(val)), nil
	case int64:
		return MetaNumber(float64(val)), nil
	case bool:
		return MetaBool(val), nil
	case []any:
		items := make([]MetaValue, len(val))
		for i, item := range val {
			mv, err := MetaValueFromNative(item)
			if err != nil {
				return MetaValue{}, goerr.Wrap(err, "invalid list element", goerr.V("index", i))
			}
			items[i] = mv
		}
		return MetaList(items...), nil
	case map[string]any:
		m := make(map[string]MetaValue, len(val))
		for key, item := range val {
			mv, err := MetaValueFromNative(item)
			if err != nil {
				return MetaValue{}, goerr.Wrap(err, "invalid map entry", goerr.V(MetaKeyKey, key))
			}
			m[key] = mv
		}
		return MetaMap(m), nil
	default:
		return MetaValue{}, goerr.New("unsupported metadata value type",
			goerr.T(types.ErrTagValidation), goerr.V("type", fmt.Sprintf("%T", value)))
	}
}

// MetadataFromNative converts a whole metadata map from plain Go values
func MetadataFromNative(values map[string]any) (map[string]MetaValue, error) {
	if values == nil {
		return nil, nil
	}
	out := make(map[string]MetaValue, len(values))
	for key, value := range values {
		mv, err := MetaValueFromNative(value)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid metadata value", goerr.V(MetaKeyKey, key))
		}
		out[key] = mv
	}
	return out, nil
}

// MetadataToNative converts a whole metadata map into plain Go values
func MetadataToNative(meta map[string]MetaValue) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		out[key] = value.ToNative()
	}
	return out
}

// CloneMetadata returns a deep copy of a metadata map
func CloneMetadata(meta map[string]MetaValue) map[string]MetaValue {
	if meta == nil {
		return nil
	}
	out := make(map[string]MetaValue, len(meta))
	for key, value := range meta {
		out[key] = value.Clone()
	}
	return out
}

// MetaConflict reports a metadata key where merge kept one value and
// dropped another. Key is a dotted path for nested map conflicts.
type MetaConflict struct {
	Key     string
	Kept    MetaValue
	Dropped MetaValue
}

// UnionMetadata merges source metadata into target metadata. Keys present in
// only one side are taken as-is. Equal values merge silently. Lists union
// their elements preserving target order. Nested maps union recursively.
// Conflicting scalars keep the target value and report the conflict, so the
// caller can surface it in a merge recommendation.
func UnionMetadata(target, source map[string]MetaValue) (map[string]MetaValue, []MetaConflict) {
	merged := CloneMetadata(target)
	if merged == nil && source != nil {
		merged = make(map[string]MetaValue, len(source))
	}

	var conflicts []MetaConflict

	keys := make([]string, 0, len(source))
	for key := range source {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		srcVal := source[key]
		tgtVal, ok := merged[key]
		if !ok {
			merged[key] = srcVal.Clone()
			continue
		}
		mergedVal, subConflicts := unionValue(key, tgtVal, srcVal)
		merged[key] = mergedVal
		conflicts = append(conflicts, subConflicts...)
	}

	return merged, conflicts
}

func unionValue(path string, target, source MetaValue) (MetaValue, []MetaConflict) {
	if target.Equal(source) {
		return target, nil
	}

	if target.Kind == KindList && source.Kind == KindList {
		return unionList(target, source), nil
	}

	if target.Kind == KindMap && source.Kind == KindMap {
		out := target.Clone()
		if out.Map == nil {
			out.Map = make(map[string]MetaValue)
		}
		var conflicts []MetaConflict

		keys := make([]string, 0, len(source.Map))
		for key := range source.Map {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			srcVal := source.Map[key]
			tgtVal, ok := out.Map[key]
			if !ok {
				out.Map[key] = srcVal.Clone()
				continue
			}
			mergedVal, subConflicts := unionValue(path+"."+key, tgtVal, srcVal)
			out.Map[key] = mergedVal
			conflicts = append(conflicts, subConflicts...)
		}
		return out, conflicts
	}

	// Scalar disagreement or kind mismatch: target wins, conflict reported.
	return target, []MetaConflict{{Key: path, Kept: target, Dropped: source}}
}

func unionList(target, source MetaValue) MetaValue {
	out := target.Clone()
	for _, item := range source.List {
		found := false
		for _, existing := range out.List {
			if existing.Equal(item) {
				found = true
				break
			}
		}
		if !found {
			out.List = append(out.List, item.Clone())
		}
	}
	return out
}
