// Package permission decodes effective-permission masks into named rights.
//
// The service reports a caller's rights on a list as a single integer mask,
// usually serialized as a hex string. Every named right is a single bit;
// all of them, ManagePermissions included, are tested with a bitwise AND.
package permission

import "strconv"

// Bit values for the individual rights.
const (
	maskViewListItems          uint64 = 0x0000000000000001
	maskAddListItems           uint64 = 0x0000000000000002
	maskEditListItems          uint64 = 0x0000000000000004
	maskDeleteListItems        uint64 = 0x0000000000000008
	maskApproveItems           uint64 = 0x0000000000000010
	maskOpenItems              uint64 = 0x0000000000000020
	maskViewVersions           uint64 = 0x0000000000000040
	maskDeleteVersions         uint64 = 0x0000000000000080
	maskCancelCheckout         uint64 = 0x0000000000000100
	maskManagePersonalViews    uint64 = 0x0000000000000200
	maskManageLists            uint64 = 0x0000000000000800
	maskViewFormPages          uint64 = 0x0000000000001000
	maskOpen                   uint64 = 0x0000000000010000
	maskViewPages              uint64 = 0x0000000000020000
	maskAddAndCustomizePages   uint64 = 0x0000000000040000
	maskApplyThemeAndBorder    uint64 = 0x0000000000080000
	maskApplyStyleSheets       uint64 = 0x0000000000100000
	maskViewUsageData          uint64 = 0x0000000000200000
	maskCreateSSCSite          uint64 = 0x0000000000400000
	maskManageSubwebs          uint64 = 0x0000000000800000
	maskCreateGroups           uint64 = 0x0000000001000000
	maskManagePermissions      uint64 = 0x0000000002000000
	maskBrowseDirectories      uint64 = 0x0000000004000000
	maskBrowseUserInfo         uint64 = 0x0000000008000000
	maskAddDelPrivateWebParts  uint64 = 0x0000000010000000
	maskUpdatePersonalWebParts uint64 = 0x0000000020000000
	maskManageWeb              uint64 = 0x0000000040000000
	maskUseRemoteAPIs          uint64 = 0x0000002000000000
	maskManageAlerts           uint64 = 0x0000004000000000
	maskCreateAlerts           uint64 = 0x0000008000000000
	maskEditMyUserInfo         uint64 = 0x0000010000000000
	maskEnumeratePermissions   uint64 = 0x4000000000000000
	maskFullMask               uint64 = 0x7FFFFFFFFFFFFFFF
)

// Set is the decoded form of an effective-permission mask.
type Set struct {
	Mask uint64 `json:"-"`

	ViewListItems          bool `json:"viewListItems"`
	AddListItems           bool `json:"addListItems"`
	EditListItems          bool `json:"editListItems"`
	DeleteListItems        bool `json:"deleteListItems"`
	ApproveItems           bool `json:"approveItems"`
	OpenItems              bool `json:"openItems"`
	ViewVersions           bool `json:"viewVersions"`
	DeleteVersions         bool `json:"deleteVersions"`
	CancelCheckout         bool `json:"cancelCheckout"`
	ManagePersonalViews    bool `json:"managePersonalViews"`
	ManageLists            bool `json:"manageLists"`
	ViewFormPages          bool `json:"viewFormPages"`
	Open                   bool `json:"open"`
	ViewPages              bool `json:"viewPages"`
	AddAndCustomizePages   bool `json:"addAndCustomizePages"`
	ApplyThemeAndBorder    bool `json:"applyThemeAndBorder"`
	ApplyStyleSheets       bool `json:"applyStyleSheets"`
	ViewUsageData          bool `json:"viewUsageData"`
	CreateSSCSite          bool `json:"createSSCSite"`
	ManageSubwebs          bool `json:"manageSubwebs"`
	CreateGroups           bool `json:"createGroups"`
	ManagePermissions      bool `json:"managePermissions"`
	BrowseDirectories      bool `json:"browseDirectories"`
	BrowseUserInfo         bool `json:"browseUserInfo"`
	AddDelPrivateWebParts  bool `json:"addDelPrivateWebParts"`
	UpdatePersonalWebParts bool `json:"updatePersonalWebParts"`
	ManageWeb              bool `json:"manageWeb"`
	UseRemoteAPIs          bool `json:"useRemoteAPIs"`
	ManageAlerts           bool `json:"manageAlerts"`
	CreateAlerts           bool `json:"createAlerts"`
	EditMyUserInfo         bool `json:"editMyUserInfo"`
	EnumeratePermissions   bool `json:"enumeratePermissions"`
	FullMask               bool `json:"fullMask"`
}

// Decode parses a mask string ("0x7FFFFFFFFFFFFFFF" or decimal) into a Set.
// The special value "FullMask" is accepted as a synonym for the all-rights
// mask. An unparseable mask decodes to the empty Set.
func Decode(mask string) Set {
	if mask == "FullMask" {
		return FromMask(maskFullMask)
	}
	n, err := strconv.ParseUint(mask, 0, 64)
	if err != nil {
		return Set{}
	}
	return FromMask(n)
}

// FromMask decodes an integer mask into a Set.
func FromMask(mask uint64) Set {
	return Set{
		Mask:                   mask,
		ViewListItems:          mask&maskViewListItems > 0,
		AddListItems:           mask&maskAddListItems > 0,
		EditListItems:          mask&maskEditListItems > 0,
		DeleteListItems:        mask&maskDeleteListItems > 0,
		ApproveItems:           mask&maskApproveItems > 0,
		OpenItems:              mask&maskOpenItems > 0,
		ViewVersions:           mask&maskViewVersions > 0,
		DeleteVersions:         mask&maskDeleteVersions > 0,
		CancelCheckout:         mask&maskCancelCheckout > 0,
		ManagePersonalViews:    mask&maskManagePersonalViews > 0,
		ManageLists:            mask&maskManageLists > 0,
		ViewFormPages:          mask&maskViewFormPages > 0,
		Open:                   mask&maskOpen > 0,
		ViewPages:              mask&maskViewPages > 0,
		AddAndCustomizePages:   mask&maskAddAndCustomizePages > 0,
		ApplyThemeAndBorder:    mask&maskApplyThemeAndBorder > 0,
		ApplyStyleSheets:       mask&maskApplyStyleSheets > 0,
		ViewUsageData:          mask&maskViewUsageData > 0,
		CreateSSCSite:          mask&maskCreateSSCSite > 0,
		ManageSubwebs:          mask&maskManageSubwebs > 0,
		CreateGroups:           mask&maskCreateGroups > 0,
		ManagePermissions:      mask&maskManagePermissions > 0,
		BrowseDirectories:      mask&maskBrowseDirectories > 0,
		BrowseUserInfo:         mask&maskBrowseUserInfo > 0,
		AddDelPrivateWebParts:  mask&maskAddDelPrivateWebParts > 0,
		UpdatePersonalWebParts: mask&maskUpdatePersonalWebParts > 0,
		ManageWeb:              mask&maskManageWeb > 0,
		UseRemoteAPIs:          mask&maskUseRemoteAPIs > 0,
		ManageAlerts:           mask&maskManageAlerts > 0,
		CreateAlerts:           mask&maskCreateAlerts > 0,
		EditMyUserInfo:         mask&maskEditMyUserInfo > 0,
		EnumeratePermissions:   mask&maskEnumeratePermissions > 0,
		FullMask:               mask == maskFullMask,
	}
}

// CanEdit reports whether the set allows modifying existing items.
func (s Set) CanEdit() bool { return s.EditListItems }

// CanAdd reports whether the set allows creating items.
func (s Set) CanAdd() bool { return s.AddListItems }

// CanDelete reports whether the set allows deleting items.
func (s Set) CanDelete() bool { return s.DeleteListItems }
