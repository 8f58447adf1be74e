package propagation

import (
	"github.com/google/uuid"

	"github.com/greenvalley/quoting/internal/model"
)

// Field names a denormalized-relevant product field.
const (
	FieldName  = "name"
	FieldPrice = "price"
	FieldUnit  = "unit"
)

// ChangeSet describes a product change that requires propagation into quote
// line items: which denormalized fields changed and the snapshot to sync to.
type ChangeSet struct {
	ProductID     uuid.UUID
	ChangedFields []string
	Snapshot      model.ProductSnapshot
}

// Detect compares the fields embedded in quote line items (name, price,
// unit) between the old and new product records. It returns the ChangeSet
// to propagate and true if any differ; changes to other fields (description,
// category, ...) need no propagation and yield false.
//
// Detect is pure. Both records must describe the same product; the new
// record's version is the version quotes will be synced to.
func Detect(oldProduct, newProduct model.Product) (ChangeSet, bool) {
	var changed []string

	if oldProduct.Name != newProduct.Name {
		changed = append(changed, FieldName)
	}
	if !oldProduct.Price.Equal(newProduct.Price) {
		changed = append(changed, FieldPrice)
	}
	if oldProduct.Unit != newProduct.Unit {
		changed = append(changed, FieldUnit)
	}

	if len(changed) == 0 {
		return ChangeSet{}, false
	}

	return ChangeSet{
		ProductID:     newProduct.ID,
		ChangedFields: changed,
		Snapshot:      newProduct.Snapshot(),
	}, true
}
