// Copyright 2025 Parentheses Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

// LineageEdge records a parent relation declared at submit time. The pair
// (child, parent) is unique; relation kind is stored alongside.
type LineageEdge struct {
	ID       uint   `gorm:"primarykey"`
	ChildID  []byte `gorm:"size:32;index:child_parent_idx,unique;not null"`
	ParentID []byte `gorm:"size:32;index:child_parent_idx,unique;index;not null"`
	Relation string `gorm:"not null"`
}

func (LineageEdge) TableName() string {
	return "lineage_edge"
}
