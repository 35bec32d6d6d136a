package crm

// FieldCodes enumerates the CRM custom-field identifiers this
// deployment uses. They are configuration, not constants, because the
// UF_CRM codes are generated per portal; the defaults match the
// production portal.
type FieldCodes struct {
	DateCreate     string
	AssignedID     string
	City           string
	ServicePrice   string
	Moved          string
	Failed         string
	AmountMismatch string
	Comment        string
	LostStageID    string
}

func DefaultFieldCodes() FieldCodes {
	return FieldCodes{
		DateCreate:     "UF_CRM_1728999194580",
		AssignedID:     "UF_CRM_1728999528",
		City:           "UF_CRM_1732081124429",
		ServicePrice:   "UF_CRM_1732531742220",
		Moved:          "UF_CRM_1730790163295",
		Failed:         "UF_CRM_1732283590096",
		AmountMismatch: "UF_CRM_1732524504063",
		Comment:        "UF_CRM_1740318723",
		LostStageID:    "LOSE",
	}
}

// DealFieldValues is the typed replacement for the free-form field maps
// the CRM update call accepts. Nil members are not sent.
type DealFieldValues struct {
	AssignedID     *int64
	ServicePrice   *float64
	Moved          *bool
	Failed         *bool
	AmountMismatch *bool
	Comment        *string
	StageID        *string
}

func (v DealFieldValues) toParams(codes FieldCodes) map[string]any {
	fields := make(map[string]any)
	if v.AssignedID != nil {
		fields[codes.AssignedID] = *v.AssignedID
	}
	if v.ServicePrice != nil {
		fields[codes.ServicePrice] = *v.ServicePrice
	}
	if v.Moved != nil {
		fields[codes.Moved] = boolFlag(*v.Moved)
	}
	if v.Failed != nil {
		fields[codes.Failed] = boolFlag(*v.Failed)
	}
	if v.AmountMismatch != nil {
		fields[codes.AmountMismatch] = boolFlag(*v.AmountMismatch)
	}
	if v.Comment != nil {
		fields[codes.Comment] = *v.Comment
	}
	if v.StageID != nil {
		fields["STAGE_ID"] = *v.StageID
	}
	return fields
}

// The portal stores boolean custom fields as 0/1.
func boolFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}
