package model_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

func TestMetaValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a    model.MetaValue
		b    model.MetaValue
		want bool
	}{
		{
			name: "equal strings",
			a:    model.MetaString("postgres"),
			b:    model.MetaString("postgres"),
			want: true,
		},
		{
			name: "different strings",
			a:    model.MetaString("postgres"),
			b:    model.MetaString("mysql"),
			want: false,
		},
		{
			name: "equal numbers",
			a:    model.MetaNumber(42),
			b:    model.MetaNumber(42),
			want: true,
		},
		{
			name: "kind mismatch never equal",
			a:    model.MetaString("42"),
			b:    model.MetaNumber(42),
			want: false,
		},
		{
			name: "equal bools",
			a:    model.MetaBool(true),
			b:    model.MetaBool(true),
			want: true,
		},
		{
			name: "equal lists",
			a:    model.MetaList(model.MetaString("a"), model.MetaNumber(1)),
			b:    model.MetaList(model.MetaString("a"), model.MetaNumber(1)),
			want: true,
		},
		{
			name: "list order matters",
			a:    model.MetaList(model.MetaString("a"), model.MetaString("b")),
			b:    model.MetaList(model.MetaString("b"), model.MetaString("a")),
			want: false,
		},
		{
			name: "equal nested maps",
			a: model.MetaMap(map[string]model.MetaValue{
				"env": model.MetaString("prod"),
				"tier": model.MetaMap(map[string]model.MetaValue{
					"db": model.MetaString("postgres"),
				}),
			}),
			b: model.MetaMap(map[string]model.MetaValue{
				"env": model.MetaString("prod"),
				"tier": model.MetaMap(map[string]model.MetaValue{
					"db": model.MetaString("postgres"),
				}),
			}),
			want: true,
		},
		{
			name: "map extra key",
			a:    model.MetaMap(map[string]model.MetaValue{"env": model.MetaString("prod")}),
			b: model.MetaMap(map[string]model.MetaValue{
				"env":    model.MetaString("prod"),
				"region": model.MetaString("us"),
			}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want {
				gt.Bool(t, tt.a.Equal(tt.b)).True()
				gt.Bool(t, tt.b.Equal(tt.a)).True()
			} else {
				gt.Bool(t, tt.a.Equal(tt.b)).False()
				gt.Bool(t, tt.b.Equal(tt.a)).False()
			}
		})
	}
}

func TestMetaValue_Clone(t *testing.T) {
	original := model.MetaMap(map[string]model.MetaValue{
		"tags": model.MetaList(model.MetaString("db")),
	})
	cloned := original.Clone()

	cloned.Map["tags"].List[0] = model.MetaString("cache")
	gt.Value(t, original.Map["tags"].List[0]).Equal(model.MetaString("db"))
}

func TestMetaValue_Validate(t *testing.T) {
	gt.NoError(t, model.MetaString("x").Validate())
	gt.NoError(t, model.MetaList(model.MetaNumber(1)).Validate())

	err := model.MetaValue{Kind: model.MetaKind("tuple")}.Validate()
	gt.Error(t, err)

	nested := model.MetaMap(map[string]model.MetaValue{
		"bad": {Kind: model.MetaKind("tuple")},
	})
	gt.Error(t, nested.Validate())
}

func TestMetaValueFromNative(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    model.MetaValue
		wantErr bool
	}{
		{
			name:  "string",
			input: "prod",
			want:  model.MetaString("prod"),
		},
		{
			name:  "float",
			input: 3.5,
			want:  model.MetaNumber(3.5),
		},
		{
			name:  "int64 from firestore",
			input: int64(7),
			want:  model.MetaNumber(7),
		},
		{
			name:  "bool",
			input: true,
			want:  model.MetaBool(true),
		},
		{
			name:  "list",
			input: []any{"a", 1.0},
			want:  model.MetaList(model.MetaString("a"), model.MetaNumber(1)),
		},
		{
			name:  "nested map",
			input: map[string]any{"env": "prod"},
			want:  model.MetaMap(map[string]model.MetaValue{"env": model.MetaString("prod")}),
		},
		{
			name:    "unsupported type",
			input:   struct{}{},
			wantErr: true,
		},
		{
			name:    "unsupported nested type",
			input:   []any{make(chan int)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := model.MetaValueFromNative(tt.input)
			if tt.wantErr {
				gt.Error(t, err)
			} else {
				gt.NoError(t, err)
				gt.Bool(t, got.Equal(tt.want)).True()
			}
		})
	}
}

func TestMetaValue_ToNativeRoundTrip(t *testing.T) {
	original := model.MetaMap(map[string]model.MetaValue{
		"env":   model.MetaString("prod"),
		"count": model.MetaNumber(3),
		"tags":  model.MetaList(model.MetaString("db"), model.MetaString("cache")),
	})

	back, err := model.MetaValueFromNative(original.ToNative())
	gt.NoError(t, err)
	gt.Bool(t, back.Equal(original)).True()
}

func TestUnionMetadata(t *testing.T) {
	t.Run("disjoint keys union silently", func(t *testing.T) {
		target := map[string]model.MetaValue{"env": model.MetaString("prod")}
		source := map[string]model.MetaValue{"region": model.MetaString("us")}

		merged, conflicts := model.UnionMetadata(target, source)
		gt.Array(t, conflicts).Length(0)
		gt.Bool(t, merged["env"].Equal(model.MetaString("prod"))).True()
		gt.Bool(t, merged["region"].Equal(model.MetaString("us"))).True()
	})

	t.Run("equal values merge without conflict", func(t *testing.T) {
		target := map[string]model.MetaValue{"env": model.MetaString("prod")}
		source := map[string]model.MetaValue{"env": model.MetaString("prod")}

		merged, conflicts := model.UnionMetadata(target, source)
		gt.Array(t, conflicts).Length(0)
		gt.Bool(t, merged["env"].Equal(model.MetaString("prod"))).True()
	})

	t.Run("scalar conflict keeps target and reports", func(t *testing.T) {
		target := map[string]model.MetaValue{"env": model.MetaString("prod")}
		source := map[string]model.MetaValue{"env": model.MetaString("staging")}

		merged, conflicts := model.UnionMetadata(target, source)
		gt.Bool(t, merged["env"].Equal(model.MetaString("prod"))).True()
		gt.Array(t, conflicts).Length(1)
		gt.Value(t, conflicts[0].Key).Equal("env")
		gt.Bool(t, conflicts[0].Kept.Equal(model.MetaString("prod"))).True()
		gt.Bool(t, conflicts[0].Dropped.Equal(model.MetaString("staging"))).True()
	})

	t.Run("lists union their elements", func(t *testing.T) {
		target := map[string]model.MetaValue{
			"tags": model.MetaList(model.MetaString("db"), model.MetaString("prod")),
		}
		source := map[string]model.MetaValue{
			"tags": model.MetaList(model.MetaString("prod"), model.MetaString("cache")),
		}

		merged, conflicts := model.UnionMetadata(target, source)
		gt.Array(t, conflicts).Length(0)
		want := model.MetaList(
			model.MetaString("db"), model.MetaString("prod"), model.MetaString("cache"))
		gt.Bool(t, merged["tags"].Equal(want)).True()
	})

	t.Run("nested map conflict uses dotted path", func(t *testing.T) {
		target := map[string]model.MetaValue{
			"tier": model.MetaMap(map[string]model.MetaValue{
				"db":    model.MetaString("postgres"),
				"cache": model.MetaString("redis"),
			}),
		}
		source := map[string]model.MetaValue{
			"tier": model.MetaMap(map[string]model.MetaValue{
				"db":    model.MetaString("mysql"),
				"queue": model.MetaString("kafka"),
			}),
		}

		merged, conflicts := model.UnionMetadata(target, source)
		gt.Array(t, conflicts).Length(1)
		gt.Value(t, conflicts[0].Key).Equal("tier.db")

		tier := merged["tier"]
		gt.Bool(t, tier.Map["db"].Equal(model.MetaString("postgres"))).True()
		gt.Bool(t, tier.Map["cache"].Equal(model.MetaString("redis"))).True()
		gt.Bool(t, tier.Map["queue"].Equal(model.MetaString("kafka"))).True()
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		target := map[string]model.MetaValue{"env": model.MetaString("prod")}
		source := map[string]model.MetaValue{"region": model.MetaString("us")}

		merged, _ := model.UnionMetadata(target, source)
		merged["env"] = model.MetaString("changed")
		merged["region"] = model.MetaString("changed")

		gt.Bool(t, target["env"].Equal(model.MetaString("prod"))).True()
		gt.Bool(t, source["region"].Equal(model.MetaString("us"))).True()
	})

	t.Run("nil target takes source", func(t *testing.T) {
		merged, conflicts := model.UnionMetadata(nil, map[string]model.MetaValue{
			"env": model.MetaString("prod"),
		})
		gt.Array(t, conflicts).Length(0)
		gt.Bool(t, merged["env"].Equal(model.MetaString("prod"))).True()
	})
}
