// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeProductVariants(t *testing.T) {
	cases := []struct {
		name string
		in   Product
		typ  ProductType
	}{
		{name: "sofa", in: Sofa{Model: "Oslo", Seats: 3, Fabric: "velvet"}, typ: ProductSofa},
		{name: "bed", in: Bed{Model: "Nordic", Size: "queen", StorageBase: true}, typ: ProductBed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typ, raw, err := EncodeProduct(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.typ, typ)

			out, err := DecodeProduct(typ, raw)
			require.NoError(t, err)
			require.Equal(t, tc.in, out)
		})
	}
}

func TestEncodeProductPointer(t *testing.T) {
	typ, raw, err := EncodeProduct(&Sofa{Model: "Oslo", Seats: 2})
	require.NoError(t, err)
	require.Equal(t, ProductSofa, typ)
	require.JSONEq(t, `{"model":"Oslo","seats":2}`, string(raw))
}

func TestDecodeProductRejectsUnknownType(t *testing.T) {
	_, err := DecodeProduct("wardrobe", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateProduct(t *testing.T) {
	require.NoError(t, ValidateProduct(Sofa{Model: "Oslo", Seats: 3}))
	require.NoError(t, ValidateProduct(Bed{Model: "Nordic", Size: "king"}))
	require.NoError(t, ValidateProduct(&Bed{Model: "Nordic", Size: "king"}))

	require.ErrorIs(t, ValidateProduct(nil), ErrValidation)
	require.ErrorIs(t, ValidateProduct(Sofa{Model: "Oslo"}), ErrValidation)
	require.ErrorIs(t, ValidateProduct(Bed{Model: "Nordic"}), ErrValidation)
	require.ErrorIs(t, ValidateProduct(&Sofa{Seats: 2}), ErrValidation)
}
