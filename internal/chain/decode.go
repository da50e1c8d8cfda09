package chain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// extractTransfers 解析交易中的顶层系统转账指令，其余指令忽略
func extractTransfers(tx *solana.Transaction) []Transfer {
	if tx == nil {
		return nil
	}

	keys := tx.Message.AccountKeys
	var transfers []Transfer
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			continue
		}
		if !keys[inst.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}

		// 只处理静态账户列表内的指令，地址表中的账户忽略
		if !withinKeys(inst.Accounts, len(keys)) {
			continue
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			// 地址表未解析时退回静态账户列表
			accounts = staticMetas(keys, inst.Accounts)
		}
		decoded, err := system.DecodeInstruction(accounts, []byte(inst.Data))
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil {
			continue
		}

		from, to := transfer.GetFundingAccount(), transfer.GetRecipientAccount()
		if from == nil || to == nil {
			continue
		}
		transfers = append(transfers, Transfer{
			From:     from.PublicKey,
			To:       to.PublicKey,
			Lamports: *transfer.Lamports,
		})
	}
	return transfers
}

func withinKeys(indexes []uint16, n int) bool {
	for _, i := range indexes {
		if int(i) >= n {
			return false
		}
	}
	return true
}

func staticMetas(keys solana.PublicKeySlice, indexes []uint16) []*solana.AccountMeta {
	metas := make([]*solana.AccountMeta, len(indexes))
	for i, idx := range indexes {
		metas[i] = solana.Meta(keys[idx])
	}
	return metas
}
