package domain

import "context"

// SlotPool é a capacidade finita de requisições em voo.
//
// Acquire espera uma vaga até o ctx encerrar; o release devolvido deve ser
// chamado uma única vez. InFlight e Cap servem só para observação.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	InFlight() int
	Cap() int
}
