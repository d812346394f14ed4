package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  BillType = "income"
	Expense BillType = "expense"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

const maxRemarkLen = 255

type (
	BillType string

	Date struct {
		time.Time
	}

	// Category is a category code together with its display label.
	Category struct {
		Code  string
		Label string
	}

	Bill struct {
		ID        int64           `json:"id"`
		User      int64           `json:"user,omitempty"`
		Remark    *string         `json:"remark"`
		Amount    decimal.Decimal `json:"amount"`
		Type      BillType        `json:"type"`
		Category  string          `json:"category"`
		Date      Date            `json:"date"`
		CreatedAt time.Time       `json:"created_at"`
		UpdatedAt time.Time       `json:"updated_at"`
	}

	// BillDraft is the payload submitted on create and full update.
	BillDraft struct {
		Type     BillType
		Category string
		Amount   decimal.Decimal
		Date     Date
		Remark   string
	}
)

var (
	incomeCategories = []Category{
		{"salary", "工资"},
		{"bonus", "奖金"},
		{"red_packet", "红包"},
		{"other", "其他"},
	}
	expenseCategories = []Category{
		{"food", "吃饭"},
		{"shopping", "购物"},
		{"entertainment", "娱乐"},
		{"living", "生活"},
		{"housing", "住房"},
		{"work", "工作"},
		{"transportation", "交通"},
		{"medical", "医疗"},
		{"pet", "宠物"},
		{"other", "其他支出"},
	}
)

var (
	ErrInvalidType     = errors.New("invalid bill type")
	ErrInvalidCategory = errors.New("category does not belong to bill type")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDate     = errors.New("invalid date")
	ErrRemarkTooLong   = errors.New("remark too long (max 255 characters)")
)

// BillTypes lists every bill type in canonical order.
func BillTypes() []BillType {
	return []BillType{Income, Expense}
}

func (t BillType) Valid() bool {
	return t == Income || t == Expense
}

// Label returns the display name of the type.
func (t BillType) Label() string {
	switch t {
	case Income:
		return "收入"
	case Expense:
		return "支出"
	}
	return string(t)
}

// Categories returns the fixed category set of the type in canonical order.
// Unknown types have no categories.
func (t BillType) Categories() []Category {
	var src []Category
	switch t {
	case Income:
		src = incomeCategories
	case Expense:
		src = expenseCategories
	default:
		return nil
	}
	out := make([]Category, len(src))
	copy(out, src)
	return out
}

// HasCategory reports whether code is part of the type's category set.
func (t BillType) HasCategory(code string) bool {
	for _, c := range t.Categories() {
		if c.Code == code {
			return true
		}
	}
	return false
}

// CategoryLabel resolves a category code of the type to its label,
// falling back to the code itself.
func (t BillType) CategoryLabel(code string) string {
	for _, c := range t.Categories() {
		if c.Code == code {
			return c.Label
		}
	}
	return code
}

// ParseBillType accepts a type code case-insensitively.
func ParseBillType(s string) (BillType, error) {
	t := BillType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// Today returns the current local calendar day.
func Today() Date {
	return DateOf(time.Now())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return NewDate(d.Year(), int(d.Month()), d.Day()+n)
}

// Before and After compare calendar days.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	// Accept full timestamps too; only the calendar part is kept.
	raw := *s
	if len(raw) > len(DateLayout) {
		raw = raw[:len(DateLayout)]
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

// RemarkText returns the remark or an empty string.
func (b Bill) RemarkText() string {
	if b.Remark == nil {
		return ""
	}
	return *b.Remark
}

// Draft converts a stored bill back into an editable draft.
func (b Bill) Draft() BillDraft {
	return BillDraft{
		Type:     b.Type,
		Category: b.Category,
		Amount:   b.Amount,
		Date:     b.Date,
		Remark:   b.RemarkText(),
	}
}

// Validate enforces the invariants the client owns before submitting.
// Every problem is reported as a field entry of a ValidationError.
func (d BillDraft) Validate() error {
	fields := map[string][]string{}
	if !d.Type.Valid() {
		fields["type"] = append(fields["type"], ErrInvalidType.Error())
	} else if !d.Type.HasCategory(d.Category) {
		fields["category"] = append(fields["category"],
			fmt.Sprintf("%s: %q is not a %s category", ErrInvalidCategory, d.Category, d.Type))
	}
	if d.Amount.IsNegative() {
		fields["amount"] = append(fields["amount"], ErrInvalidAmount.Error())
	}
	if err := d.Date.Validate(); err != nil {
		fields["date"] = append(fields["date"], err.Error())
	}
	if len([]rune(d.Remark)) > maxRemarkLen {
		fields["remark"] = append(fields["remark"], ErrRemarkTooLong.Error())
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// MarshalJSON renders the draft the way the bills endpoint expects it:
// amount with two decimals and the date as an ISO calendar string.
func (d BillDraft) MarshalJSON() ([]byte, error) {
	payload := struct {
		Type     BillType `json:"type"`
		Category string   `json:"category"`
		Amount   string   `json:"amount"`
		Date     string   `json:"date"`
		Remark   *string  `json:"remark"`
	}{
		Type:     d.Type,
		Category: d.Category,
		Amount:   d.Amount.StringFixed(2),
		Date:     d.Date.String(),
	}
	if strings.TrimSpace(d.Remark) != "" {
		r := d.Remark
		payload.Remark = &r
	}
	return json.Marshal(payload)
}
