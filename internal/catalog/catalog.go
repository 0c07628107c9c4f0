// Package catalog is the canonical list of departments, clubs and department
// sections. Submission validation, the SQL check constraints and GET /v1/catalog
// all read from it.
package catalog

import "strings"

// Entry is one catalog value with its short code.
type Entry struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Catalog groups the three reference lists.
type Catalog struct {
	Departments []Entry  `json:"departments"`
	Clubs       []Entry  `json:"clubs"`
	Sections    []string `json:"sections"`
}

var departments = []Entry{
	{Name: "Artificial Intelligence and Data Science", Code: "AIDS"},
	{Name: "Basic Science and Humanities", Code: "BSH"},
	{Name: "Civil Engineering", Code: "CE"},
	{Name: "Computer Science and Engineering", Code: "CSE"},
	{Name: "Electrical and Communications Engineering", Code: "ECE"},
	{Name: "Electrical and Electronics Engineering", Code: "EEE"},
	{Name: "Mechanical Engineering", Code: "ME"},
	{Name: "MCA", Code: "MCA"},
}

var clubs = []Entry{
	{Name: "IEEE SB MITS", Code: "IEEE"},
	{Name: "NSS MITS", Code: "NSS"},
	{Name: "IEDC MITS", Code: "IEDC"},
	{Name: "ETERNIA", Code: "ETR"},
	{Name: "μLearn MITS", Code: "μL"},
	{Name: "Tinkerhub MITS", Code: "TH"},
	{Name: "YI YUVA MITS", Code: "YI"},
	{Name: "FOSS", Code: "FOSS"},
	{Name: "Polaris Game Labs", Code: "PGL"},
	{Name: "LINC", Code: "LINC"},
	{Name: "ICI", Code: "ICI"},
	{Name: "Math Club", Code: "MATH"},
	{Name: "Quiz Club", Code: "QUIZ"},
	{Name: "ASCE", Code: "ASCE"},
	{Name: "Rotract MITS", Code: "ROT"},
}

var sections = []string{
	"Department Activities",
	"Faculty Achievements",
	"Student Achievements",
	"NPTEL Certifications",
}

// Default returns a copy of the catalog.
func Default() Catalog {
	return Catalog{
		Departments: append([]Entry(nil), departments...),
		Clubs:       append([]Entry(nil), clubs...),
		Sections:    append([]string(nil), sections...),
	}
}

// Department resolves a department by name or code, case-insensitively.
func Department(v string) (string, bool) { return lookup(departments, v) }

// Club resolves a club by name or code, case-insensitively.
func Club(v string) (string, bool) { return lookup(clubs, v) }

// Section resolves a department section by name.
func Section(v string) (string, bool) {
	v = strings.TrimSpace(v)
	for _, s := range sections {
		if strings.EqualFold(s, v) {
			return s, true
		}
	}
	return "", false
}

// DepartmentNames lists canonical department names in catalog order.
func DepartmentNames() []string { return names(departments) }

// ClubNames lists canonical club names in catalog order.
func ClubNames() []string { return names(clubs) }

// SectionNames lists the department sections.
func SectionNames() []string { return append([]string(nil), sections...) }

func lookup(list []Entry, v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	for _, e := range list {
		if strings.EqualFold(e.Name, v) || strings.EqualFold(e.Code, v) {
			return e.Name, true
		}
	}
	return "", false
}

func names(list []Entry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Name
	}
	return out
}
