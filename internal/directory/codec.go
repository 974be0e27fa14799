package directory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/enums"
)

// Attributes is the wire form of an entry: attribute name to value list, the
// way the directory hands entries over. Typed records are decoded from this
// exactly once, at the store boundary.
type Attributes map[string][]string

// Attribute names per object class. This is the explicit field-to-attribute
// mapping; nothing outside this file touches raw attribute names.
const (
	AttrObjectClass = "objectClass"
	AttrEntryUUID   = "entryUUID"

	AttrLicenseCode         = "bildungsloginLicenseCode"
	AttrProductID           = "bildungsloginProductId"
	AttrLicenseQuantity     = "bildungsloginLicenseQuantity"
	AttrLicenseProvider     = "bildungsloginLicenseProvider"
	AttrPurchasingReference = "bildungsloginPurchasingReference"
	AttrUtilizationSystems  = "bildungsloginUtilizationSystems"
	AttrValidityStartDate   = "bildungsloginValidityStartDate"
	AttrValidityEndDate     = "bildungsloginValidityEndDate"
	AttrValidityDuration    = "bildungsloginValidityDuration"
	AttrLicenseSpecialType  = "bildungsloginLicenseSpecialType"
	AttrLicenseType         = "bildungsloginLicenseType"
	AttrIgnoredForDisplay   = "bildungsloginIgnoredForDisplay"
	AttrDeliveryDate        = "bildungsloginDeliveryDate"
	AttrLicenseSchool       = "bildungsloginLicenseSchool"

	AttrAssignmentStatus   = "bildungsloginAssignmentStatus"
	AttrAssignmentAssignee = "bildungsloginAssignmentAssignee"
	AttrAssignmentTime     = "bildungsloginAssignmentTimeOfAssignment"

	AttrMetaDataTitle       = "bildungsloginMetaDataTitle"
	AttrMetaDataDescription = "bildungsloginMetaDataDescription"
	AttrMetaDataAuthor      = "bildungsloginMetaDataAuthor"
	AttrMetaDataPublisher   = "bildungsloginMetaDataPublisher"
	AttrMetaDataCover       = "bildungsloginMetaDataCover"
	AttrMetaDataCoverSmall  = "bildungsloginMetaDataCoverSmall"
	AttrMetaDataModified    = "bildungsloginMetaDataModified"

	AttrUserUID       = "uid"
	AttrUserFirstname = "givenName"
	AttrUserLastname  = "sn"
	AttrUserSchool    = "ucsschoolSchool"
	AttrUserRole      = "ucsschoolRole"
	AttrUserClass     = "ucsschoolClass"
	AttrUserWorkgroup = "ucsschoolWorkgroup"

	AttrGroupName   = "cn"
	AttrGroupSchool = "ucsschoolSchool"
	AttrGroupMember = "member"

	AttrSchoolOU   = "ou"
	AttrSchoolName = "displayName"
)

// caseInsensitiveAttrs lists attributes the directory schema matches
// case-insensitively; filter evaluation honors the same rules.
var caseInsensitiveAttrs = map[string]bool{
	AttrObjectClass:   true,
	AttrLicenseCode:   true,
	AttrProductID:     true,
	AttrLicenseSchool: true,
	AttrUserSchool:    true,
	AttrSchoolOU:      true,
}

const dateLayout = "2006-01-02"

// Encode renders a typed record into its attribute form, objectClass
// included.
func Encode(obj Object) (Attributes, error) {
	attrs := Attributes{AttrObjectClass: {obj.ObjectClass()}}
	switch o := obj.(type) {
	case *License:
		putStr(attrs, AttrLicenseCode, o.Code)
		putStr(attrs, AttrProductID, o.ProductID)
		attrs[AttrLicenseQuantity] = []string{strconv.Itoa(o.Quantity)}
		putStr(attrs, AttrLicenseProvider, o.Provider)
		putStr(attrs, AttrPurchasingReference, o.PurchasingReference)
		putStr(attrs, AttrUtilizationSystems, o.UtilizationSystems)
		putDate(attrs, AttrValidityStartDate, o.ValidityStart)
		putDate(attrs, AttrValidityEndDate, o.ValidityEnd)
		putStr(attrs, AttrValidityDuration, o.ValidityDuration)
		putStr(attrs, AttrLicenseSpecialType, string(o.SpecialType))
		putStr(attrs, AttrLicenseType, string(o.LicenseType))
		putBool(attrs, AttrIgnoredForDisplay, o.IgnoredForDisplay)
		putDate(attrs, AttrDeliveryDate, o.DeliveryDate)
		putStr(attrs, AttrLicenseSchool, o.School)
	case *Assignment:
		putStr(attrs, AttrAssignmentStatus, string(o.Status))
		putStr(attrs, AttrAssignmentAssignee, o.Assignee)
		putDate(attrs, AttrAssignmentTime, o.TimeOfAssignment)
	case *MetaData:
		putStr(attrs, AttrProductID, o.ProductID)
		putStr(attrs, AttrMetaDataTitle, o.Title)
		putStr(attrs, AttrMetaDataDescription, o.Description)
		putStr(attrs, AttrMetaDataAuthor, o.Author)
		putStr(attrs, AttrMetaDataPublisher, o.Publisher)
		putStr(attrs, AttrMetaDataCover, o.Cover)
		putStr(attrs, AttrMetaDataCoverSmall, o.CoverSmall)
		putDate(attrs, AttrMetaDataModified, o.Modified)
	case *User:
		putStr(attrs, AttrUserUID, o.Username)
		putStr(attrs, AttrUserFirstname, o.Firstname)
		putStr(attrs, AttrUserLastname, o.Lastname)
		putList(attrs, AttrUserSchool, o.Schools)
		roles := make([]string, len(o.Roles))
		for i, r := range o.Roles {
			roles[i] = string(r)
		}
		putList(attrs, AttrUserRole, roles)
		putList(attrs, AttrUserClass, o.Classes)
		putList(attrs, AttrUserWorkgroup, o.Workgroups)
	case *Group:
		putStr(attrs, AttrGroupName, o.Name)
		putStr(attrs, AttrGroupSchool, o.School)
		putList(attrs, AttrGroupMember, o.Members)
	case *School:
		putStr(attrs, AttrSchoolOU, o.OU)
		putStr(attrs, AttrSchoolName, o.Name)
	default:
		return nil, fmt.Errorf("directory: cannot encode %T", obj)
	}
	return attrs, nil
}

// Decode rebuilds the typed record for the entry's object class.
func Decode(class string, attrs Attributes) (Object, error) {
	switch class {
	case ClassLicense:
		quantity, err := getInt(attrs, AttrLicenseQuantity)
		if err != nil {
			return nil, err
		}
		start, err := getDate(attrs, AttrValidityStartDate)
		if err != nil {
			return nil, err
		}
		end, err := getDate(attrs, AttrValidityEndDate)
		if err != nil {
			return nil, err
		}
		delivery, err := getDate(attrs, AttrDeliveryDate)
		if err != nil {
			return nil, err
		}
		licenseType, err := enums.ParseLicenseType(getStr(attrs, AttrLicenseType))
		if err != nil {
			return nil, err
		}
		return &License{
			Code:                getStr(attrs, AttrLicenseCode),
			ProductID:           getStr(attrs, AttrProductID),
			Quantity:            quantity,
			Provider:            getStr(attrs, AttrLicenseProvider),
			PurchasingReference: getStr(attrs, AttrPurchasingReference),
			UtilizationSystems:  getStr(attrs, AttrUtilizationSystems),
			ValidityStart:       start,
			ValidityEnd:         end,
			ValidityDuration:    getStr(attrs, AttrValidityDuration),
			SpecialType:         enums.SpecialType(getStr(attrs, AttrLicenseSpecialType)),
			LicenseType:         licenseType,
			IgnoredForDisplay:   getBool(attrs, AttrIgnoredForDisplay),
			DeliveryDate:        delivery,
			School:              getStr(attrs, AttrLicenseSchool),
		}, nil
	case ClassAssignment:
		status, err := enums.ParseAssignmentStatus(getStr(attrs, AttrAssignmentStatus))
		if err != nil {
			return nil, err
		}
		assignedAt, err := getDate(attrs, AttrAssignmentTime)
		if err != nil {
			return nil, err
		}
		return &Assignment{
			Status:           status,
			Assignee:         getStr(attrs, AttrAssignmentAssignee),
			TimeOfAssignment: assignedAt,
		}, nil
	case ClassMetaData:
		modified, err := getDate(attrs, AttrMetaDataModified)
		if err != nil {
			return nil, err
		}
		return &MetaData{
			ProductID:   getStr(attrs, AttrProductID),
			Title:       getStr(attrs, AttrMetaDataTitle),
			Description: getStr(attrs, AttrMetaDataDescription),
			Author:      getStr(attrs, AttrMetaDataAuthor),
			Publisher:   getStr(attrs, AttrMetaDataPublisher),
			Cover:       getStr(attrs, AttrMetaDataCover),
			CoverSmall:  getStr(attrs, AttrMetaDataCoverSmall),
			Modified:    modified,
		}, nil
	case ClassUser:
		roles := make([]enums.Role, 0, len(attrs[AttrUserRole]))
		for _, r := range attrs[AttrUserRole] {
			roles = append(roles, enums.Role(r))
		}
		return &User{
			Username:   getStr(attrs, AttrUserUID),
			Firstname:  getStr(attrs, AttrUserFirstname),
			Lastname:   getStr(attrs, AttrUserLastname),
			Schools:    copyList(attrs[AttrUserSchool]),
			Roles:      roles,
			Classes:    copyList(attrs[AttrUserClass]),
			Workgroups: copyList(attrs[AttrUserWorkgroup]),
		}, nil
	case ClassGroup:
		return &Group{
			Name:    getStr(attrs, AttrGroupName),
			School:  getStr(attrs, AttrGroupSchool),
			Members: copyList(attrs[AttrGroupMember]),
		}, nil
	case ClassSchool:
		return &School{
			OU:   getStr(attrs, AttrSchoolOU),
			Name: getStr(attrs, AttrSchoolName),
		}, nil
	default:
		return nil, fmt.Errorf("directory: unknown object class %q", class)
	}
}

func putStr(attrs Attributes, name, value string) {
	if value == "" {
		return
	}
	attrs[name] = []string{value}
}

func putList(attrs Attributes, name string, values []string) {
	if len(values) == 0 {
		return
	}
	attrs[name] = copyList(values)
}

func putDate(attrs Attributes, name string, value *time.Time) {
	if value == nil {
		return
	}
	attrs[name] = []string{value.Format(dateLayout)}
}

func putBool(attrs Attributes, name string, value bool) {
	if value {
		attrs[name] = []string{"TRUE"}
	} else {
		attrs[name] = []string{"FALSE"}
	}
}

func getStr(attrs Attributes, name string) string {
	if values := attrs[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func getInt(attrs Attributes, name string) (int, error) {
	raw := getStr(attrs, name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("directory: attribute %s: %w", name, err)
	}
	return value, nil
}

func getDate(attrs Attributes, name string) (*time.Time, error) {
	raw := getStr(attrs, name)
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("directory: attribute %s: %w", name, err)
	}
	return &value, nil
}

func getBool(attrs Attributes, name string) bool {
	return strings.EqualFold(getStr(attrs, name), "TRUE")
}

func copyList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
