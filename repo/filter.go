package repo

import (
	"fmt"
	"outreach/pkg/goutil"
)

type LogicalOp string

const (
	And LogicalOp = "AND"
	Or  LogicalOp = "OR"
)

type Op string

const (
	OpEq     Op = "="
	OpNotEq  Op = "!="
	OpGt     Op = ">"
	OpGte    Op = ">="
	OpLt     Op = "<"
	OpLte    Op = "<="
	OpLike   Op = "LIKE"
	OpIn     Op = "IN"
	OpNotIn  Op = "NOT IN"
	OpIsNull Op = "IS NULL"
)

type Condition struct {
	Field         string
	Op            Op
	Value         interface{}
	NextLogicalOp LogicalOp
}

type Pagination struct {
	Limit *uint32
	Page  *uint32
}

func (p *Pagination) GetLimit() uint32 {
	if p != nil && p.Limit != nil {
		return *p.Limit
	}
	return 0
}

func (p *Pagination) GetPage() uint32 {
	if p != nil && p.Page != nil {
		return *p.Page
	}
	return 0
}

type Filter struct {
	Conditions []*Condition
	Pagination *Pagination
}

func ToSqlWithArgs(f *Filter) (sql string, args []interface{}) {
	if f == nil {
		return
	}

	// conditions with a nil value are skipped, except null checks
	conditions := make([]*Condition, 0, len(f.Conditions))
	for _, condition := range f.Conditions {
		if condition.Op != OpIsNull && goutil.IsNil(condition.Value) {
			continue
		}
		conditions = append(conditions, condition)
	}

	for i, condition := range conditions {
		switch condition.Op {
		case OpIsNull:
			sql += fmt.Sprintf("%s IS NULL", condition.Field)
		case OpIn, OpNotIn:
			sql += fmt.Sprintf("%s %s ?", condition.Field, condition.Op)
			args = append(args, condition.Value)
		case OpEq, OpNotEq, OpGt, OpGte, OpLt, OpLte, OpLike:
			sql += fmt.Sprintf("%s %s ?", condition.Field, condition.Op)
			args = append(args, condition.Value)
		}

		if i != len(conditions)-1 {
			logicalOp := condition.NextLogicalOp
			if logicalOp == "" {
				logicalOp = And
			}
			sql += fmt.Sprintf(" %s ", logicalOp)
		}
	}

	return
}
