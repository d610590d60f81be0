package pile

import "go.lionforge.dev/internal/corefail"

// Dictable extends Identifiable with what a pile item must additionally
// satisfy to round-trip through ToDict/FromDict: Kind identifies which
// decoder in the registry reconstructs it, ToDict renders its own fields.
type Dictable interface {
	Identifiable
	Kind() string
	ToDict() map[string]any
}

// decoders is the Kind-keyed registry FromDict dispatches through,
// populated at init() time by each concrete item type that wants pile
// serialization support — the fixed, link-time registry standing in for
// lionagi's runtime subclass registry.
var decoders = map[string]func(map[string]any) (any, error){}

// RegisterDecoder registers a decode function for kind. Call it from an
// init() in the package that defines the item type.
func RegisterDecoder(kind string, decode func(map[string]any) (any, error)) {
	decoders[kind] = decode
}

// ToDict serializes p into the {"collections": [...]} shape lionagi's own
// Pile.to_dict produces, each item dict carrying its own "kind"
// discriminator. Sync mode only.
func ToDict[T Dictable](p *Pile[T]) (map[string]any, error) {
	vals, err := p.Values()
	if err != nil {
		return nil, err
	}
	collections := make([]map[string]any, 0, len(vals))
	for _, v := range vals {
		d := v.ToDict()
		d["kind"] = v.Kind()
		collections = append(collections, d)
	}
	return map[string]any{"collections": collections}, nil
}

// FromDict reconstructs a Sync Pile from data produced by ToDict,
// dispatching each collection entry's "kind" field through the decoders
// registry. Pile.FromDict(p.ToDict()) reproduces p's items and order.
func FromDict[T Dictable](data map[string]any) (*Pile[T], error) {
	raw, _ := data["collections"].([]map[string]any)
	p := New[T](Sync)
	for _, d := range raw {
		kind, _ := d["kind"].(string)
		decode, ok := decoders[kind]
		if !ok {
			return nil, corefail.New(corefail.KindConfigurationError, "UNKNOWN_PILE_KIND", "no decoder registered for pile item kind "+kind)
		}
		decoded, err := decode(d)
		if err != nil {
			return nil, err
		}
		item, ok := decoded.(T)
		if !ok {
			return nil, corefail.New(corefail.KindTypeViolation, "DECODER_TYPE_MISMATCH", "decoded item does not match pile's element type")
		}
		p.includeLocked(item)
	}
	return p, nil
}
