package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/p2b-ledger/consensus"
	"github.com/luca-patrignani/p2b-ledger/ledger"
	"github.com/luca-patrignani/p2b-ledger/network"
)

func balancesTable(balances ledger.Balances) pterm.TableData {
	accounts := make([]string, 0, len(balances))
	for account := range balances {
		accounts = append(accounts, account)
	}
	slices.Sort(accounts)
	data := pterm.TableData{{"Account", "Balance"}}
	for _, account := range accounts {
		data = append(data, []string{account, strconv.FormatInt(balances[account], 10)})
	}
	return data
}

func chainTable(chain []ledger.Block) pterm.TableData {
	data := pterm.TableData{{"#", "Miner", "Transactions", "Hash"}}
	for _, b := range chain {
		data = append(data, []string{
			strconv.Itoa(b.Number),
			strconv.Itoa(b.Miner),
			strconv.Itoa(len(b.Transactions)),
			shortHash(b.Hash),
		})
	}
	return data
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

func printSnapshot(node int, s consensus.Snapshot) {
	pterm.DefaultSection.Printfln("Node %d", node)
	pterm.DefaultTable.WithHasHeader().WithData(chainTable(s.Chain)).Render()
	if len(s.PendingTransactions) > 0 {
		items := make([]pterm.BulletListItem, len(s.PendingTransactions))
		for i, t := range s.PendingTransactions {
			items[i] = pterm.BulletListItem{Level: 0, Text: t.String()}
		}
		pterm.Info.Println("Pending transactions")
		pterm.DefaultBulletList.WithItems(items).Render()
	}
	pterm.DefaultTable.WithHasHeader().WithData(balancesTable(s.State)).Render()
}

func printHistory(h network.AccountHistory) {
	data := pterm.TableData{{"Block", "Balance"}}
	for _, e := range h.Balances {
		data = append(data, []string{strconv.Itoa(e.Block), strconv.FormatInt(e.Balance, 10)})
	}
	pterm.DefaultSection.Printfln("Account %s", h.Account)
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	transfers := pterm.TableData{{"Block", "Transfer"}}
	for _, t := range h.Transfers {
		transfers = append(transfers, []string{strconv.Itoa(t.Block), t.Transaction.String()})
	}
	pterm.DefaultTable.WithHasHeader().WithData(transfers).Render()
}

func blockPanel(b ledger.Block, state ledger.Balances) string {
	body := fmt.Sprintf("miner %d\nprevious %s\nhash %s\n", b.Miner, shortHash(b.PreviousHash), shortHash(b.Hash))
	for _, t := range b.Transactions {
		body += t.String() + "\n"
	}
	body += fmt.Sprintf("%d accounts", len(state))
	return pterm.DefaultBox.
		WithHorizontalPadding(2).
		WithTitle(pterm.LightYellow(fmt.Sprintf("|BLOCK %d|", b.Number))).
		WithTitleTopCenter().
		Sprint(body)
}
