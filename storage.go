package main

import (
	"context"
	"fmt"
	"net/url"
)

// Storage box and subaccount actions the panel may invoke, keyed by the
// route's action name and mapped to the upstream action.
var (
	storageBoxActions = map[string]string{
		"change_protection":      "change_protection",
		"change_type":            "change_type",
		"reset_password":         "reset_password",
		"update_access_settings": "update_access_settings",
		"enable_snapshot_plan":   "enable_snapshot_plan",
		"disable_snapshot_plan":  "disable_snapshot_plan",
	}
	subaccountActions = map[string]string{
		"reset_password":            "reset_subaccount_password",
		"reset_subaccount_password": "reset_subaccount_password",
		"update_access_settings":    "update_access_settings",
		"change_home_directory":     "change_home_directory",
	}
)

func (s *service) StorageBoxes(ctx context.Context, cred Credential) ([]StorageBox, error) {
	boxes, err := listAll[StorageBox](ctx, s.storage, cred, "/storage_boxes", "storage_boxes", nil)
	if err != nil {
		return nil, err
	}
	for i := range boxes {
		s.priceStorageBox(&boxes[i])
	}
	return boxes, nil
}

func (s *service) StorageBox(ctx context.Context, cred Credential, id int64) (*StorageBox, error) {
	var res struct {
		StorageBox StorageBox `json:"storage_box"`
	}
	if err := s.storage.get(ctx, cred, fmt.Sprintf("/storage_boxes/%d", id), nil, &res); err != nil {
		return nil, err
	}
	s.priceStorageBox(&res.StorageBox)
	return &res.StorageBox, nil
}

func (s *service) priceStorageBox(box *StorageBox) {
	pricing, err := grossPricing(box.StorageBoxType.Prices, box.Location.Name)
	box.Pricing = s.priced("storage_box", box.ID, pricing, err)
}

func (s *service) Subaccounts(ctx context.Context, cred Credential, box int64) ([]Subaccount, error) {
	var res struct {
		Subaccounts []Subaccount `json:"subaccounts"`
	}
	if err := s.storage.get(ctx, cred, fmt.Sprintf("/storage_boxes/%d/subaccounts", box), nil, &res); err != nil {
		return nil, err
	}
	if res.Subaccounts == nil {
		res.Subaccounts = []Subaccount{}
	}
	return res.Subaccounts, nil
}

// Folders lists the directories below path, "." being the box root.
func (s *service) Folders(ctx context.Context, cred Credential, box int64, path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	var res struct {
		Folders []string `json:"folders"`
	}
	q := url.Values{"path": {path}}
	if err := s.storage.get(ctx, cred, fmt.Sprintf("/storage_boxes/%d/folders", box), q, &res); err != nil {
		return nil, err
	}
	if res.Folders == nil {
		res.Folders = []string{}
	}
	return res.Folders, nil
}
