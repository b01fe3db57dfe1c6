package models

import (
	"kostfinder/internal/utils"
)

type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}
