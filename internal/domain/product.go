// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
)

type ProductType string

const (
	ProductSofa ProductType = "sofa"
	ProductBed  ProductType = "bed"
)

// Product is either a Sofa or a Bed. Callers switch on the concrete type;
// EncodeProduct and DecodeProduct are the only places that map it to and
// from its stored form.
type Product interface {
	Type() ProductType
	isProduct()
}

type Sofa struct {
	Model       string `json:"model"`
	Seats       int    `json:"seats"`
	Shape       string `json:"shape,omitempty"`
	Fabric      string `json:"fabric,omitempty"`
	FabricColor string `json:"fabric_color,omitempty"`
	LegFinish   string `json:"leg_finish,omitempty"`
	Recliner    bool   `json:"recliner,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func (Sofa) Type() ProductType { return ProductSofa }
func (Sofa) isProduct()        {}

type Bed struct {
	Model       string `json:"model"`
	Size        string `json:"size"`
	Headboard   string `json:"headboard,omitempty"`
	StorageBase bool   `json:"storage_base,omitempty"`
	Fabric      string `json:"fabric,omitempty"`
	FabricColor string `json:"fabric_color,omitempty"`
	Mattress    bool   `json:"mattress_included,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func (Bed) Type() ProductType { return ProductBed }
func (Bed) isProduct()        {}

func EncodeProduct(p Product) (ProductType, json.RawMessage, error) {
	if p == nil {
		return "", nil, fmt.Errorf("%w: product is required", ErrValidation)
	}

	var (
		raw []byte
		err error
	)
	switch v := p.(type) {
	case Sofa:
		raw, err = json.Marshal(v)
	case *Sofa:
		raw, err = json.Marshal(*v)
	case Bed:
		raw, err = json.Marshal(v)
	case *Bed:
		raw, err = json.Marshal(*v)
	default:
		return "", nil, fmt.Errorf("%w: unsupported product %T", ErrValidation, p)
	}
	if err != nil {
		return "", nil, err
	}
	return p.Type(), raw, nil
}

func DecodeProduct(t ProductType, raw json.RawMessage) (Product, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	switch t {
	case ProductSofa:
		var s Sofa
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: decode sofa: %v", ErrValidation, err)
		}
		return s, nil
	case ProductBed:
		var b Bed
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: decode bed: %v", ErrValidation, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown product type %q", ErrValidation, t)
	}
}

// ValidateProduct checks the fields every variant must carry.
func ValidateProduct(p Product) error {
	switch v := p.(type) {
	case *Sofa:
		if v == nil {
			return fmt.Errorf("%w: product is required", ErrValidation)
		}
		return ValidateProduct(*v)
	case *Bed:
		if v == nil {
			return fmt.Errorf("%w: product is required", ErrValidation)
		}
		return ValidateProduct(*v)
	case Sofa:
		if v.Model == "" {
			return fmt.Errorf("%w: sofa model is required", ErrValidation)
		}
		if v.Seats <= 0 {
			return fmt.Errorf("%w: sofa seats must be positive", ErrValidation)
		}
	case Bed:
		if v.Model == "" {
			return fmt.Errorf("%w: bed model is required", ErrValidation)
		}
		if v.Size == "" {
			return fmt.Errorf("%w: bed size is required", ErrValidation)
		}
	case nil:
		return fmt.Errorf("%w: product is required", ErrValidation)
	default:
		return fmt.Errorf("%w: unsupported product %T", ErrValidation, p)
	}
	return nil
}
