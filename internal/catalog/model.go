// Package catalog holds the reference entities daily entries point at:
// children and program goals.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Child is one child a parent logs activity for.
type Child struct {
	ChildID string `gorm:"column:child_id;primaryKey;size:190;not null" json:"id"`
	Name    string `gorm:"column:name;size:320;not null" json:"name"`
	Center  string `gorm:"column:center;size:320" json:"center,omitempty"`
	Teacher string `gorm:"column:teacher;size:320" json:"teacher,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Child) TableName() string {
	return "children"
}

// Goal is one program goal with suggested activities, keyed by its code.
type Goal struct {
	Code           int    `gorm:"column:code;primaryKey;not null" json:"code"`
	Description    string `gorm:"column:description;type:text;not null" json:"description"`
	ActivitiesJSON string `gorm:"column:activities_json;type:text;not null" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Goal) TableName() string {
	return "goals"
}

// Activities decodes the goal's suggested activity labels.
func (g *Goal) Activities() ([]string, error) {
	if g.ActivitiesJSON == "" {
		return nil, nil
	}
	var activities []string
	if err := json.Unmarshal([]byte(g.ActivitiesJSON), &activities); err != nil {
		return nil, fmt.Errorf("catalog: decode activities for goal %d: %w", g.Code, err)
	}
	return activities, nil
}

// SetActivities encodes and stores the goal's suggested activity labels.
func (g *Goal) SetActivities(activities []string) error {
	if activities == nil {
		activities = []string{}
	}
	encoded, err := json.Marshal(activities)
	if err != nil {
		return fmt.Errorf("catalog: encode activities for goal %d: %w", g.Code, err)
	}
	g.ActivitiesJSON = string(encoded)
	return nil
}
