package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

func (d *dataset) GetUserForUpdate(_ context.Context, id int64) (users.User, error) {
	u, ok := d.users[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (d *dataset) AdjustBalance(_ context.Context, userID int64, delta decimal.Decimal) error {
	u, ok := d.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.Balance = u.Balance.Add(delta)
	d.users[userID] = u
	return nil
}

func (d *dataset) InsertTransfer(_ context.Context, t fund.Transfer) (int64, error) {
	t.ID = d.next("transfers")
	d.transfers = append(d.transfers, t)
	return t.ID, nil
}

func (d *dataset) FirstUserWithRole(_ context.Context, role shared.Role) (users.User, error) {
	var (
		first users.User
		found bool
	)
	for _, u := range d.users {
		if u.Role == role && (!found || u.ID < first.ID) {
			first, found = u, true
		}
	}
	if !found {
		return users.User{}, shared.ErrNotFound
	}
	return first, nil
}

func (d *dataset) insertUser(u users.User) (int64, error) {
	if _, err := d.getUserByName(u.Name); err == nil {
		return 0, fmt.Errorf("%w: user %q already exists", shared.ErrInvalidUser, u.Name)
	}
	u.ID = d.next("users")
	d.users[u.ID] = u
	return u.ID, nil
}

func (d *dataset) updateUser(u users.User) error {
	current, ok := d.users[u.ID]
	if !ok {
		return shared.ErrNotFound
	}
	current.Role = u.Role
	current.PasswordHash = u.PasswordHash
	d.users[u.ID] = current
	return nil
}

func (d *dataset) getUserByName(name string) (users.User, error) {
	for _, u := range d.users {
		if strings.EqualFold(u.Name, name) {
			return u, nil
		}
	}
	return users.User{}, shared.ErrNotFound
}

func (d *dataset) listUsers() []users.User {
	out := make([]users.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *dataset) listTransfers(filter fund.HistoryFilter) []fund.Transfer {
	var out []fund.Transfer
	for _, t := range d.transfers {
		if filter.UserID != 0 && t.FromUserID != filter.UserID && (t.ToUserID == nil || *t.ToUserID != filter.UserID) {
			continue
		}
		if filter.InvoiceID != 0 && (t.InvoiceID == nil || *t.InvoiceID != filter.InvoiceID) {
			continue
		}
		if !within(t.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return limit(out, filter.Limit)
}

func (d *dataset) sumTransfersForInvoice(invoiceID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range d.transfers {
		if t.InvoiceID != nil && *t.InvoiceID == invoiceID {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}
