package core

import (
	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// encodeEntity renders an entity through its bson tags into a mutable
// document the write path can strip identity from.
func encodeEntity(data any) (bson.M, error) {
	raw, err := bson.Marshal(data)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeEntity fills out from an identity-mapped result document. Input is
// decoded weakly because the store hands back int32/int64 and bson arrays
// where entities declare plain ints, slices and nested structs.
func decodeEntity(doc bson.M, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "bson",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(doc))
}
